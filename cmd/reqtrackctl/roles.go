package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage the role directory",
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List role assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result roleAssignmentList
		if err := newClient().getJSON(requestsAPIBase+"/roles", &result); err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}
		if wantsStructured() {
			return encode(result)
		}
		headers := []string{"Identity", "Name", "Roles"}
		rows := make([][]string, 0, len(result.Items))
		for _, a := range result.Items {
			id := a.Identity.Email
			if id == "" {
				id = a.Identity.ID
			}
			rows = append(rows, []string{id, a.Identity.Name, strings.Join(a.Roles, ", ")})
		}
		writeTable(headers, rows)
		return nil
	},
}

var (
	assignName  string
	assignRoles []string
)

var rolesAssignCmd = &cobra.Command{
	Use:   "assign <email>",
	Short: "Grant roles to a person (administrators only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"name":  assignName,
			"email": args[0],
			"roles": assignRoles,
		}
		var result roleAssignment
		if err := newClient().putJSON(requestsAPIBase+"/roles/"+url.PathEscape(args[0]), body, &result); err != nil {
			return fmt.Errorf("failed to assign roles: %w", err)
		}
		if wantsStructured() {
			return encode(result)
		}
		fmt.Fprintf(stdout, "%s now holds %s\n", args[0], strings.Join(result.Roles, ", "))
		return nil
	},
}

var rolesRevokeCmd = &cobra.Command{
	Use:   "revoke <email> <role>",
	Short: "Remove a role from a person (administrators only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("%s/roles/%s/%s", requestsAPIBase, url.PathEscape(args[0]), url.PathEscape(args[1]))
		if err := newClient().delete(path); err != nil {
			return fmt.Errorf("failed to revoke role: %w", err)
		}
		fmt.Fprintf(stdout, "Revoked %s from %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	rolesAssignCmd.Flags().StringVar(&assignName, "name", "", "Display name")
	rolesAssignCmd.Flags().StringSliceVar(&assignRoles, "role", nil, "Role to grant (administrator, requirements-manager, compliance-officer); repeatable")
	_ = rolesAssignCmd.MarkFlagRequired("role")

	rolesCmd.AddCommand(rolesListCmd, rolesAssignCmd, rolesRevokeCmd)
}
