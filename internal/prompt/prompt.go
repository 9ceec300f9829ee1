// Package prompt implements the two-state ChatPrompt (SPEC_FULL.md §3,
// §9 "Two-state typed prompt"): a PromptTemplate (pre-render, may
// reference bindings and helpers) and a RenderedPrompt (placeholders
// substituted, ordering validated). The two are distinct Go types with no
// shared interface; the only way to produce a RenderedPrompt is
// PromptTemplate.Render, and only RenderedPrompt is accepted by a driver,
// mirroring the source's compile-time-witnessed state without needing a
// phantom type parameter. Grounded on original_source/src/prompt.rs.
package prompt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Role is a chat message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageTemplate is one message within a PromptTemplate, pre-render.
type MessageTemplate struct {
	Role           Role
	TextTemplate   string   // may be empty if the message is image-only
	ImageTemplates []string // each renders to a file path to be turned into a data URL
	AssistantJSON  string   // only meaningful when Role == RoleAssistant
}

// PromptTemplate is the pre-render state: a developer/system preamble
// template plus an ordered list of message templates.
type PromptTemplate struct {
	DeveloperTemplate string
	Messages          []MessageTemplate
}

// Message is one message within a RenderedPrompt.
type Message struct {
	Role          Role
	Text          string
	Images        []string // data URLs
	AssistantJSON []byte   // structured JSON body, Role == RoleAssistant only
}

// RenderedPrompt is the post-render state: every placeholder has been
// substituted and message ordering has been validated. Only a
// RenderedPrompt may be handed to a driver.
type RenderedPrompt struct {
	Developer string
	Messages  []Message
}

// Render substitutes bindings into the template, releases the bindings
// (the caller's map is not retained), and validates message ordering
// before returning a RenderedPrompt. Render errors are fatal per §4.9
// step 2.
func (t *PromptTemplate) Render(bindings map[string]any) (RenderedPrompt, error) {
	funcs := sprig.TxtFuncMap()
	funcs["imageDataURL"] = imageDataURL
	funcs["fileContents"] = fileContents

	developer, err := renderTemplate("developer", t.DeveloperTemplate, bindings, funcs)
	if err != nil {
		return RenderedPrompt{}, fmt.Errorf("prompt: rendering developer preamble: %w", err)
	}

	messages := make([]Message, 0, len(t.Messages))
	for i, mt := range t.Messages {
		text, err := renderTemplate(fmt.Sprintf("message[%d].text", i), mt.TextTemplate, bindings, funcs)
		if err != nil {
			return RenderedPrompt{}, fmt.Errorf("prompt: rendering message %d text: %w", i, err)
		}

		images := make([]string, 0, len(mt.ImageTemplates))
		for j, it := range mt.ImageTemplates {
			rendered, err := renderTemplate(fmt.Sprintf("message[%d].image[%d]", i, j), it, bindings, funcs)
			if err != nil {
				return RenderedPrompt{}, fmt.Errorf("prompt: rendering message %d image %d: %w", i, j, err)
			}
			images = append(images, rendered)
		}

		msg := Message{Role: mt.Role, Text: text, Images: images}
		if mt.Role == RoleAssistant {
			msg.AssistantJSON = []byte(mt.AssistantJSON)
		}
		messages = append(messages, msg)
	}

	rendered := RenderedPrompt{Developer: developer, Messages: messages}
	if err := rendered.Validate(); err != nil {
		return RenderedPrompt{}, fmt.Errorf("prompt: %w", err)
	}
	// Bindings go out of scope here; the caller's map (which may carry
	// large image data URLs) is never stored on the returned value.
	return rendered, nil
}

// Validate enforces the §3 invariant on a RenderedPrompt: messages
// alternate user/assistant, start and end with user, every user message
// has text or at least one image, and every assistant message carries a
// structured JSON body.
func (r RenderedPrompt) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("rendered prompt has no messages")
	}
	if r.Messages[0].Role != RoleUser {
		return errors.New("rendered prompt must start with a user message")
	}
	if r.Messages[len(r.Messages)-1].Role != RoleUser {
		return errors.New("rendered prompt must end with a user message")
	}

	var expect Role = RoleUser
	for i, m := range r.Messages {
		if m.Role != expect {
			return fmt.Errorf("message %d: expected role %q, got %q (messages must alternate)", i, expect, m.Role)
		}
		switch m.Role {
		case RoleUser:
			if m.Text == "" && len(m.Images) == 0 {
				return fmt.Errorf("message %d: user message has neither text nor images", i)
			}
			expect = RoleAssistant
		case RoleAssistant:
			if len(m.AssistantJSON) == 0 {
				return fmt.Errorf("message %d: assistant message has no structured JSON body", i)
			}
			expect = RoleUser
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}

func renderTemplate(name, tmplText string, bindings map[string]any, funcs template.FuncMap) (string, error) {
	if tmplText == "" {
		return "", nil
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, bindings); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// imageDataURL is the replacement for the source's Handlebars
// image-to-data-URL helper: it reads a file and returns a "data:" URL
// with a MIME type sniffed from the file extension.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("imageDataURL(%s): %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
}

// fileContents is the replacement for the source's text-file-contents
// helper: it reads a text file verbatim.
func fileContents(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("fileContents(%s): %w", path, err)
	}
	return string(data), nil
}
