package main

import (
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/spf13/cobra"
)

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <pipeline id>",
		Short: "Manually dispatch a run of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  triggerExecute,
	}

	flags := cmd.Flags()
	flags.String("api", "http://localhost:9001", "conduit API address")
	flags.String("token", "", "bearer token for the API")

	return cmd
}

func triggerExecute(cmd *cobra.Command, args []string) error {
	api, err := cmd.Flags().GetString("api")
	if err != nil {
		return err
	}

	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}

	requrl := fmt.Sprintf("%v/pipelines/%v/trigger", api, args[0])

	req, err := http.NewRequest(http.MethodPost, requrl, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("trigger rejected with status %v: %v",
			resp.StatusCode, string(body))
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(body))

	return nil
}
