package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/acapanni/memoir/internal/gallery"
	"github.com/acapanni/memoir/internal/gemini"
	"github.com/acapanni/memoir/internal/observability"
)

const contextSyncTimeout = 20 * time.Second

// ContextSyncAgent inspects each completed assistant turn with a
// function-calling model call and applies the requested gallery actions:
// updating a photo's user context or bringing a photo on screen.
type ContextSyncAgent struct {
	analyzer gemini.Analyzer
	library  *gallery.Library
	model    string
	metrics  *observability.Metrics

	// notify feeds a text message back into the live conversation after a
	// photo switch. May be nil.
	notify func(text string)
}

func NewContextSyncAgent(
	analyzer gemini.Analyzer,
	library *gallery.Library,
	model string,
	metrics *observability.Metrics,
	notify func(text string),
) *ContextSyncAgent {
	return &ContextSyncAgent{
		analyzer: analyzer,
		library:  library,
		model:    model,
		metrics:  metrics,
		notify:   notify,
	}
}

// Process analyzes one completed turn transcript. Failures are logged and
// swallowed: a broken sync call must never take down the voice session.
func (a *ContextSyncAgent) Process(ctx context.Context, modelText string) {
	modelText = strings.TrimSpace(modelText)
	if modelText == "" {
		a.observe("skipped_empty")
		return
	}
	if a.library.Len() == 0 {
		a.observe("skipped_no_photos")
		return
	}
	current, ok := a.library.Current()
	if !ok {
		a.observe("skipped_no_current")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, contextSyncTimeout)
	defer cancel()

	_, calls, err := a.analyzer.Generate(ctx, gemini.AnalyzeRequest{
		Model:             a.model,
		SystemInstruction: a.buildInstruction(current),
		Prompt:            modelText,
		Tools:             contextSyncTools(),
	})
	if err != nil {
		log.Printf("context sync: analysis failed: %v", err)
		a.observe("error")
		return
	}
	if len(calls) == 0 {
		a.observe("no_action")
		return
	}

	for _, call := range calls {
		switch call.Name {
		case "updateImageContext":
			fileName := stringArg(call.Args, "fileName")
			newContext := stringArg(call.Args, "newContext")
			if fileName == "" || newContext == "" {
				a.observe("bad_args")
				continue
			}
			if a.library.UpdateUserContext(fileName, newContext) {
				a.observe("context_updated")
			} else {
				log.Printf("context sync: unknown photo %q in updateImageContext", fileName)
				a.observe("unknown_photo")
			}
		case "showImage":
			fileName := stringArg(call.Args, "fileName")
			if fileName == "" {
				a.observe("bad_args")
				continue
			}
			if a.library.ShowPhoto(fileName) {
				a.observe("photo_shown")
				if a.notify != nil {
					a.notify(DisplayedPhotoMessage(fileName))
				}
			} else {
				log.Printf("context sync: unknown photo %q in showImage", fileName)
				a.observe("unknown_photo")
			}
		default:
			log.Printf("context sync: unexpected function call %q", call.Name)
			a.observe("unknown_call")
		}
	}
}

func (a *ContextSyncAgent) buildInstruction(current gallery.Photo) string {
	names, _ := json.Marshal(a.library.FileNames())
	return fmt.Sprintf(
		"You are a function-calling AI that analyzes text to determine if an action should be taken. "+
			"You have two functions available: 'updateImageContext' and 'showImage'.\n\n"+
			"1.  **'updateImageContext'**: Call this function if the input text explicitly states that context "+
			"for an image will be updated. The text will typically start with \"Okay, I'll update the context...\".\n"+
			"    *   `fileName`: Use the file name of the image currently being discussed, which is %q.\n"+
			"    *   `newContext`: Extract the new, updated context from the input text. The existing context is: %q.\n\n"+
			"2.  **'showImage'**: Call this function if the input text indicates a request to show a specific photo "+
			"(e.g., \"Sure, here is the photo of the sunset.\").\n"+
			"    *   `fileName`: From the list of available images, choose the file name that best matches the "+
			"description in the input text.\n"+
			"    *   Available image files: %s.\n\n"+
			"Analyze the input text and call the appropriate function with the correct arguments if an action is "+
			"indicated. If not, do not call any function.",
		current.FileName, current.UserContext, names,
	)
}

func contextSyncTools() []gemini.ToolDecl {
	return []gemini.ToolDecl{
		{
			Name:        "updateImageContext",
			Description: "Updates the user-provided context for a specific image file.",
			Params: map[string]gemini.ToolParam{
				"fileName":   {Type: "string", Description: "The file name of the image to update."},
				"newContext": {Type: "string", Description: "The new, updated context for the image, incorporating information from the conversation."},
			},
			Required: []string{"fileName", "newContext"},
		},
		{
			Name:        "showImage",
			Description: "Displays a specific image on the screen by its file name in response to a user request.",
			Params: map[string]gemini.ToolParam{
				"fileName": {Type: "string", Description: "The file name of the image to display."},
			},
			Required: []string{"fileName"},
		},
	}
}

func (a *ContextSyncAgent) observe(result string) {
	if a.metrics != nil {
		a.metrics.ContextSyncCalls.WithLabelValues(result).Inc()
	}
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return strings.TrimSpace(s)
}
