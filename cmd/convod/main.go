package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/freelancehub/convo/internal/daemon"
	"github.com/freelancehub/convo/internal/session"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	instanceName := session.Resolve(*instanceFlag)
	if err := session.ValidateName(instanceName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{InstanceName: instanceName, Listen: *listenFlag}),
	)

	app.Run()
}
