package main

import (
	"net/http"

	"github.com/urfave/cli/v2"
)

var versionCmd = cli.Command{
	Name:   "version",
	Usage:  "Print the version of the connected daemon",
	Action: versionAction,
}

func versionAction(ctx *cli.Context) error {
	resp, err := callDaemon(http.MethodGet, "/v1/version")
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}
