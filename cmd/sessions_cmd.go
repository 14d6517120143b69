package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/store"
	"github.com/nextlevelbuilder/walink/internal/store/file"
)

type sessionStatus struct {
	Username  string `json:"username"`
	Exists    bool   `json:"exists"`
	Logged    bool   `json:"logged"`
	Connected bool   `json:"connected"`
}

func sessionCmd() *cobra.Command {
	var (
		jsonOutput bool
		offline    bool
		closeLive  bool
	)
	cmd := &cobra.Command{
		Use:   "session <username>",
		Short: "Show whether a tenant has stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := store.ValidateTenantID(username); err != nil {
				return err
			}

			if closeLive {
				return closeSession(username)
			}

			var st sessionStatus
			var err error
			if offline {
				st, err = sessionStatusLocal(username)
			} else {
				err = apiCall("GET", "/api/session/"+url.PathEscape(username), nil, &st)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(st, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printSessionStatus(st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "read the sessions directory directly instead of asking the server")
	cmd.Flags().BoolVar(&closeLive, "close", false, "drop the server's live connection for this tenant (credentials are kept)")
	cmd.MarkFlagsMutuallyExclusive("close", "offline")
	return cmd
}

func closeSession(username string) error {
	var resp struct {
		Removed bool `json:"removed"`
	}
	if err := apiCall("DELETE", "/api/session/"+url.PathEscape(username), nil, &resp); err != nil {
		return err
	}
	if resp.Removed {
		fmt.Printf("%s: live connection closed\n", username)
	} else {
		fmt.Printf("%s: no live connection\n", username)
	}
	return nil
}

// sessionStatusLocal inspects the configured sessions directory.
func sessionStatusLocal(username string) (sessionStatus, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return sessionStatus{}, fmt.Errorf("load config: %w", err)
	}
	dirs := file.NewSessionDirs(cfg.Storage.SessionsDir)
	exists, logged, err := dirs.Status(username)
	if err != nil {
		return sessionStatus{}, err
	}
	return sessionStatus{Username: username, Exists: exists, Logged: logged}, nil
}

func printSessionStatus(st sessionStatus) {
	state := "no session"
	switch {
	case st.Connected:
		state = "linked, connected"
	case st.Logged:
		state = "linked"
	case st.Exists:
		state = "directory present, not linked"
	}
	fmt.Printf("%s: %s\n", st.Username, state)
}

func sendCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "send <username> <to> [text...]",
		Short: "Send a text message from a tenant's account",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, to := args[0], args[1]
			text := strings.Join(args[2:], " ")
			if text == "" {
				t, err := askText("Message", "Text to send to "+to)
				if err != nil {
					return err
				}
				text = t
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("message text is empty")
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Send as %s to %s?", username, to))
				if err != nil || !ok {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			body := map[string]string{"to": to, "text": text}
			if err := apiCall("POST", "/api/send/"+url.PathEscape(username), body, nil); err != nil {
				return err
			}
			fmt.Println("Sent.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "send without confirmation")
	return cmd
}
