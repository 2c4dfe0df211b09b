package main

import (
	"net/http"

	"github.com/urfave/cli/v2"
)

var balanceCmd = cli.Command{
	Name:   "balance",
	Usage:  "Print the funding balance of the connected daemon",
	Action: balanceAction,
}

func balanceAction(ctx *cli.Context) error {
	resp, err := callDaemon(http.MethodGet, "/v1/balance")
	if err != nil {
		return err
	}

	printRespJSON(resp)
	return nil
}
