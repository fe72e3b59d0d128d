package notifications

import "fmt"

// Compose builds the outbound message. triggerName is nil when the
// triggering user could not be resolved, which selects the generic title.
func Compose(triggerName *string, groupName string) Message {
	title := fallbackTitle
	if triggerName != nil && *triggerName != "" {
		title = fmt.Sprintf(titleTemplate, *triggerName)
	}
	return Message{
		Title: title,
		Body:  fmt.Sprintf(bodyTemplate, groupName),
	}
}
