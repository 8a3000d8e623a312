package cli_command

type Command struct {
	Name    string
	Help    string
	Handler func(args []string) (exitCode int, err error)
	Aliases []string
}

// Commands is populated by the register package on startup.
var Commands []*Command

// GetCommand returns the command with the given name or alias, or nil.
func GetCommand(name string) *Command {
	for _, c := range Commands {
		if c.Name == name {
			return c
		}
		for _, a := range c.Aliases {
			if a == name {
				return c
			}
		}
	}
	return nil
}
