package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/tooie/internal/infra"
	"github.com/eliteGoblin/tooie/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or change the privileged policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every privileged policy key",
	RunE:  runPolicyShow,
}

var policySetCmd = &cobra.Command{
	Use:   "set <key> <true|false>",
	Short: "Set one privileged policy key",
	Long: `Sets a privileged policy key. The daemon picks the change up on its
next policy recheck; selection keys trigger a backend reselect.`,
	Args: cobra.ExactArgs(2),
	RunE: runPolicySet,
}

var execPolicyCmd = &cobra.Command{
	Use:   "exec-policy",
	Short: "Inspect the exec allow-list",
}

var execPolicyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective exec policy",
	RunE:  runExecPolicyShow,
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	execPolicyCmd.AddCommand(execPolicyShowCmd)

	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(execPolicyCmd)
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	store, err := infra.OpenPolicyStore(infra.DetectPaths())
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := store.Load()
	if err != nil {
		return err
	}
	values := policy.ToKeyValues(p)
	for _, key := range policy.Keys() {
		fmt.Printf("%-32s %t\n", key, values[key])
	}
	return nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	key := args[0]
	enabled, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid value %q: expected true or false", args[1])
	}

	// Validate the key before touching the database
	p := policy.DefaultPolicy()
	if err := policy.Set(&p, key, enabled); err != nil {
		return err
	}

	store, err := infra.OpenPolicyStore(infra.DetectPaths())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Set(key, enabled); err != nil {
		return err
	}
	fmt.Printf("%s = %t\n", key, enabled)
	return nil
}

func runExecPolicyShow(cmd *cobra.Command, args []string) error {
	file := infra.NewExecPolicyFile(infra.DetectPaths().ExecConfig)
	p, err := file.Load()
	if err != nil {
		fmt.Printf("warning: %v (showing defaults)\n", err)
	}

	data, err := json.MarshalIndent(policy.DescribeExec(p), "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s\n", file.Path(), data)
	return nil
}
