package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandSession   Command = "session"
	CommandServe     Command = "serve"
	CommandStart     Command = "start"
	CommandStop      Command = "stop"
	CommandToggle    Command = "toggle"
	CommandSpeak     Command = "speak"
	CommandSay       Command = "say"
	CommandAutoSpeak Command = "autospeak"
	CommandStatus    Command = "status"
	CommandPhrases   Command = "phrases"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

// argPolicy is how many positional arguments a command accepts.
type argPolicy int

const (
	argsNone argPolicy = iota
	argsOptionalOne
	argsRest
)

var validCommands = map[Command]argPolicy{
	CommandSession:   argsNone,
	CommandServe:     argsNone,
	CommandStart:     argsNone,
	CommandStop:      argsNone,
	CommandToggle:    argsNone,
	CommandSpeak:     argsNone,
	CommandSay:       argsRest,
	CommandAutoSpeak: argsOptionalOne,
	CommandStatus:    argsNone,
	CommandPhrases:   argsNone,
	CommandDevices:   argsNone,
	CommandDoctor:    argsNone,
	CommandVersion:   argsNone,
	CommandHelp:      argsNone,
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
	// Literal is set by `say --text`: the text is spoken even when it is a number.
	Literal bool
}

// Text joins positional arguments into the intent payload.
func (p Parsed) Text() string {
	return strings.TrimSpace(strings.Join(p.Args, " "))
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			policy, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			rest := args[i+1:]
			switch policy {
			case argsNone:
				if len(rest) > 0 {
					return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
				}
			case argsOptionalOne:
				if len(rest) > 1 {
					return Parsed{}, fmt.Errorf("command %q takes at most one argument", arg)
				}
			}
			if cmd == CommandSay {
				if len(rest) > 0 && rest[0] == "--text" {
					parsed.Literal = true
					rest = rest[1:]
				}
				if len(rest) == 0 {
					return Parsed{}, errors.New("say requires a phrase number or text")
				}
			}
			parsed.Args = append([]string(nil), rest...)
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  session           Own the camera and run the capture/recognition session
  serve             Run the speech synthesis proxy (POST /api/tts)
  start             Start recording in the active session
  stop              Stop recording and send the clip for lip reading
  toggle            Start recording, or stop when already recording
  speak             Speak the current transcription
  say N|TEXT        Speak canned phrase N (see phrases) or literal text
  say --text TEXT   Speak TEXT as given, even when it is a number
  autospeak [on|off]
                    Toggle or set automatic speech of new transcriptions
  status            Print current session state
  phrases           List canned phrases
  devices           List cameras and microphones
  doctor            Run configuration and environment checks
  version           Print version information
  help              Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/silencevoice/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
