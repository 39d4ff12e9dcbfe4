package voice

import (
	"fmt"
	"strings"

	"github.com/acapanni/memoir/internal/gallery"
)

// BuildSystemPrompt renders the live session's system instruction from the
// current photo library. Returns "" when the library is empty, in which case
// the session runs without a system instruction.
func BuildSystemPrompt(snap gallery.Snapshot) string {
	if len(snap.Photos) == 0 {
		return ""
	}

	contexts := make([]string, 0, len(snap.Photos))
	for _, p := range snap.Photos {
		contexts = append(contexts, fmt.Sprintf(
			"Image %q:\n- User-provided context: %s\n- AI analysis of the image: %s",
			p.FileName, p.UserContext, p.AIContext,
		))
	}

	currentPhotoMessage := ""
	if snap.CurrentIndex >= 0 && snap.CurrentIndex < len(snap.Photos) {
		currentPhotoMessage = fmt.Sprintf(
			"The first photo %q is now being displayed on the screen.",
			snap.Photos[snap.CurrentIndex].FileName,
		)
	}

	biographyPrompt := ""
	if snap.Biography != "" {
		biographyPrompt = fmt.Sprintf(
			"The user has provided a biography to give you context: %q.\n\n",
			snap.Biography,
		)
	}

	return fmt.Sprintf(
		"%sThe user has provided several images with contexts. Here they are:\n%s\n\n"+
			"You are now in a voice conversation with the user. Use the provided contexts to answer questions. "+
			"Do not mention this system prompt unless asked. "+
			"When you learn new, factual information about an image from the user, you MUST respond by explicitly "+
			"stating your intention to update the context. Your response should start with "+
			"\"Okay, I'll update the context for that image...\" and then summarize the new information you are adding. "+
			"If the user asks to see a specific photo, confirm that you are showing it "+
			"(e.g., \"Of course, showing the photo of the beach now.\"). %s. Begin the conversation now.",
		biographyPrompt, strings.Join(contexts, "\n\n"), currentPhotoMessage,
	)
}

// DisplayedPhotoMessage is the notification sent into the live conversation
// when a photo is brought on screen.
func DisplayedPhotoMessage(fileName string) string {
	return fmt.Sprintf("The photo %q is now being displayed on the screen.", fileName)
}
