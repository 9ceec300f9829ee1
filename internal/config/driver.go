package config

import (
	"context"
	"fmt"

	"github.com/elevatelaw/prompt-scaler/internal/drivers"
)

// BuildDriver constructs the Driver variant named by c.Driver, wiring in
// whichever credentials that variant needs from the resolved Config. This
// is the one place DriverKind is switched on; everything downstream only
// ever sees the uniform drivers.Driver interface.
func (c Config) BuildDriver(ctx context.Context) (drivers.Driver, error) {
	switch c.Driver {
	case DriverOpenAICompatible:
		return drivers.NewOpenAICompatibleDriver(c.OpenAIAPIKey, c.OpenAIAPIBase), nil
	case DriverNative:
		return drivers.NewNativeDriver(c.OpenAIAPIKey, c.OpenAIAPIBase), nil
	case DriverBedrock:
		return drivers.NewBedrockDriver(ctx, c.AWSRegion)
	case DriverVertex:
		return drivers.NewVertexDriver(ctx, c.GCPProject, c.VertexLocation)
	case DriverEcho:
		return &drivers.EchoDriver{}, nil
	default:
		return nil, fmt.Errorf("config: unknown driver kind %q", c.Driver)
	}
}
