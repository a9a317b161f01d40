package indicator

// messages are the notification texts for each session phase.
type messages struct {
	recording  string
	processing string
	empty      string
	errorText  string
}

var defaultMessages = messages{
	recording:  "Recording… mouth the words to the camera",
	processing: "Reading lips…",
	empty:      "No words recognized",
	errorText:  "Lip reading error",
}
