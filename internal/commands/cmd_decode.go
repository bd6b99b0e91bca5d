package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Hexidecibel/companion/internal/core/pathenc"
	"github.com/Hexidecibel/companion/pkg/iojson"
)

type DecodeCmd struct {
	flags *Flags

	// flags
	encode     bool
	jsonOutput bool
}

// NewDecodeCmd creates a new decode command
func NewDecodeCmd(flags *Flags) *DecodeCmd {
	return &DecodeCmd{flags: flags}
}

// Register adds the decode command to the application
func (cmd *DecodeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "decode",
		Usage:     "Decode a log-store directory segment to a project path",
		UsageText: "companion decode [--encode] <segment>",
		Description: `The log store names per-project directories by collapsing both '/' and
'_' to '-'. Decoding checks the filesystem to resolve the ambiguity and
is best-effort for paths mixing the two characters.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "encode",
				Usage:       "treat the argument as a raw path and print its encoding",
				Destination: &cmd.encode,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DecodeCmd) run(ctx context.Context, c *cli.Command) error {
	arg := c.Args().First()
	if arg == "" {
		return fmt.Errorf("usage: companion decode [--encode] <segment>")
	}

	result := pathenc.Decode(arg)
	if cmd.encode {
		result = pathenc.Encode(arg)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		return iojson.WriteWith(out, os.Stderr, map[string]string{
			"input":  arg,
			"result": result,
		})
	}
	fmt.Fprintln(out, result)
	return nil
}
