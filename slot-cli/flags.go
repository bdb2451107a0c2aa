package slotcli

import "github.com/urfave/cli/v2"

var CommonOpts struct {
	Console bool
	Dry     bool
	Env     string
	Port    int

	Capacity    int
	Policy      string
	EvictTo     string
	DaxEndpoint string
	AuthSecret  string
}

var ConsoleFlag = cli.BoolFlag{
	Name:        "console",
	Usage:       "whether to run in console mode or lambda mode",
	Value:       false,
	EnvVars:     []string{"CONSOLE"},
	Destination: &CommonOpts.Console,
}
var DryFlag = cli.BoolFlag{
	Name:        "dry",
	Usage:       "whether to actually persist any records or not",
	Value:       false,
	EnvVars:     []string{"DRY"},
	Destination: &CommonOpts.Dry,
}
var EnvFlag = cli.StringFlag{
	Name:        "env",
	Usage:       "environment",
	Value:       "local",
	EnvVars:     []string{"ENV"},
	Destination: &CommonOpts.Env,
}
var CapacityFlag = cli.IntFlag{
	Name:        "capacity",
	Usage:       "maximum simultaneous video senders per meeting",
	Value:       16,
	EnvVars:     []string{"CAPACITY"},
	Destination: &CommonOpts.Capacity,
}
var PolicyFlag = cli.StringFlag{
	Name:        "policy",
	Usage:       "admission policy, either capacity or moderator",
	Value:       "capacity",
	EnvVars:     []string{"ADMISSION_POLICY"},
	Destination: &CommonOpts.Policy,
}
var EvictToFlag = cli.StringFlag{
	Name:        "evict-to",
	Usage:       "where evicted senders land, either idle or pending",
	Value:       "idle",
	EnvVars:     []string{"EVICT_TO"},
	Destination: &CommonOpts.EvictTo,
}
var DaxEndpointFlag = cli.StringFlag{
	Name:        "dax-endpoint",
	Usage:       "optional DAX cluster endpoint for read-heavy paths",
	EnvVars:     []string{"DAX_ENDPOINT"},
	Destination: &CommonOpts.DaxEndpoint,
}
var AuthSecretFlag = cli.StringFlag{
	Name:        "auth-secret",
	Usage:       "Secrets Manager secret holding the connect token signing key",
	EnvVars:     []string{"AUTH_SECRET"},
	Destination: &CommonOpts.AuthSecret,
}
var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen to, if running locally",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

var CommonFlags = []cli.Flag{
	&ConsoleFlag,
	&DryFlag,
	&EnvFlag,
}
