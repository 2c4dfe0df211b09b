package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"
)

var (
	peerdexDataDir = btcutil.AppDataDir("peerdex-cli", false)
	statePath      = path.Join(peerdexDataDir, "state.json")
)

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "peerdex CLI"
	app.Usage = "Command line interface for peerdexd daemon operators"
	app.Commands = append(
		app.Commands,
		&configCmd,
		&versionCmd,
		&balanceCmd,
		&stopCmd,
	)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func getState() (map[string]string, error) {
	data := map[string]string{}

	file, err := os.ReadFile(statePath)
	if err != nil {
		return nil, errors.New("get config state error: try 'config init'")
	}
	json.Unmarshal(file, &data)

	return data, nil
}

func setState(data map[string]string) error {
	if _, err := os.Stat(peerdexDataDir); os.IsNotExist(err) {
		os.Mkdir(peerdexDataDir, os.ModeDir|0755)
	}

	currentData, _ := getState()
	if currentData == nil {
		currentData = map[string]string{}
	}
	mergedData := merge(currentData, data)

	jsonString, err := json.Marshal(mergedData)
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath, jsonString, 0644); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}

	return nil
}

func merge(maps ...map[string]string) map[string]string {
	merge := make(map[string]string, 0)
	for _, m := range maps {
		for k, v := range m {
			merge[k] = v
		}
	}
	return merge
}

// callDaemon performs one authenticated request against the admin HTTP
// interface configured in the local state.
func callDaemon(method, endpoint string) (map[string]interface{}, error) {
	state, err := getState()
	if err != nil {
		return nil, err
	}
	rpcserver, ok := state["rpcserver"]
	if !ok {
		return nil, errors.New("missing rpcserver in state: try 'config init'")
	}

	req, err := http.NewRequest(method, "http://"+rpcserver+endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token := state["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{}
	if err := json.Unmarshal(buf, &body); err != nil {
		return nil, fmt.Errorf("malformed daemon response: %s", string(buf))
	}
	if res.StatusCode != http.StatusOK {
		if msg, ok := body["error"].(string); ok {
			return nil, errors.New(msg)
		}
		return nil, fmt.Errorf("daemon returned status %d", res.StatusCode)
	}

	return body, nil
}

func printRespJSON(resp interface{}) {
	jsonString, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Println("unable to decode response: ", err)
		return
	}

	fmt.Println(string(jsonString))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[peerdex] %v\n", err)
	os.Exit(1)
}
