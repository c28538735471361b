package cmd

import (
	"fmt"

	"github.com/audiolibrelab/videorecorder/internal/device"
	"github.com/audiolibrelab/videorecorder/internal/permission"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var permissionKinds = []device.Kind{device.KindVideo, device.KindAudio}

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Manage camera and microphone access",
	Long: `Show and change the stored camera and microphone access decisions.
Undecided access is asked for the first time recording is opened.`,
}

var permissionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the access status per media kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := permissionStore()
		for _, kind := range permissionKinds {
			fmt.Printf("%s: %s\n", kind, store.Status(kind))
		}
		return nil
	},
}

var permissionGrantCmd = &cobra.Command{
	Use:   "grant [video|audio]",
	Short: "Grant access (both kinds when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPermission(args, true)
	},
}

var permissionRevokeCmd = &cobra.Command{
	Use:   "revoke [video|audio]",
	Short: "Deny access (both kinds when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPermission(args, false)
	},
}

var permissionResetCmd = &cobra.Command{
	Use:   "reset [video|audio]",
	Short: "Forget decisions so access is asked for again",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind device.Kind
		if len(args) == 1 {
			parsed, err := device.ParseKind(args[0])
			if err != nil {
				return err
			}
			kind = parsed
		}
		if err := permissionStore().Reset(kind); err != nil {
			return err
		}
		fmt.Printf("Permission decisions reset\n")
		return nil
	},
}

func setPermission(args []string, granted bool) error {
	kinds := permissionKinds
	if len(args) == 1 {
		kind, err := device.ParseKind(args[0])
		if err != nil {
			return err
		}
		kinds = []device.Kind{kind}
	}

	store := permissionStore()
	for _, kind := range kinds {
		if err := store.Set(kind, granted); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", kind, store.Status(kind))
	}
	return nil
}

func permissionStore() *permission.Store {
	return permission.NewStore(afero.NewOsFs(), cfg.Permission.Store, kindsFromConfig(), newPrompter())
}

func kindsFromConfig() []device.Kind {
	kinds := make([]device.Kind, 0, len(cfg.Permission.Restricted))
	for _, k := range cfg.Permission.Restricted {
		kinds = append(kinds, device.Kind(k))
	}
	return kinds
}

func init() {
	permissionCmd.AddCommand(permissionStatusCmd)
	permissionCmd.AddCommand(permissionGrantCmd)
	permissionCmd.AddCommand(permissionRevokeCmd)
	permissionCmd.AddCommand(permissionResetCmd)
}
