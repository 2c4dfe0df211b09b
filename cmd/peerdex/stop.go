package main

import (
	"net/http"

	"github.com/urfave/cli/v2"
)

var stopCmd = cli.Command{
	Name:   "stop",
	Usage:  "Shut the connected daemon down",
	Action: stopAction,
}

func stopAction(ctx *cli.Context) error {
	resp, err := callDaemon(http.MethodPost, "/v1/stop")
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}
