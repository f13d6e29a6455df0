package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/postkit/packages/core/env"
)

var validateCmd = &cobra.Command{
	Use:   "validate <request-file>...",
	Short: "Validate request files without sending them",
	Long: `Check request files against the schema, expand their placeholders and
build the request, without executing anything.

Examples:
  postkit validate get-user.yaml
  postkit validate requests/*.yaml --var host=api.local`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

var validateVarFlags []string

func init() {
	validateCmd.Flags().StringArrayVar(&validateVarFlags, "var", nil, "Set a template variable (name=value), repeatable")
}

func validateCommand(cmd *cobra.Command, args []string) error {
	vars, err := env.ParseAssignments(validateVarFlags)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	hasErrors := false
	for _, file := range args {
		req, err := buildRequest(file, vars, nil)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%s %s)\n", file, req.Method, req.BuildURL())
	}

	if hasErrors {
		return requestError(errors.New("validation failed"))
	}
	return nil
}
