// Command phoneagent drives the screen-observe/VLM-reason/act/reflect loop
// against a phone device.
//
// Usage:
//
//	phoneagent run --config config.yaml --task "turn on wifi"
//	phoneagent list-devices
//	phoneagent replay --config config.yaml --task "turn on wifi"
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI defines the command-line interface.
type CLI struct {
	Run         RunCmd         `cmd:"" help:"Run the agent loop against a device."`
	ListDevices ListDevicesCmd `cmd:"" name:"list-devices" help:"List attached devices (stub)."`
	Replay      ReplayCmd      `cmd:"" help:"Replay a historical workflow without the loop (stub)."`

	Config string `short:"c" help:"Path to config file." type:"path"`
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("phoneagent"),
		kong.Description("Autonomous phone automation agent"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
