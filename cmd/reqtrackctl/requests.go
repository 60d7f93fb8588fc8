package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var requestsCmd = &cobra.Command{
	Use:     "requests",
	Aliases: []string{"request", "req"},
	Short:   "Manage requirement requests",
}

var (
	listStatus    string
	listRequester string
	listApprover  string
	listFilter    string
	listPageSize  int
)

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requirement requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		q := url.Values{}
		if listStatus != "" {
			q.Set("status", strings.ToUpper(listStatus))
		}
		if listRequester != "" {
			q.Set("requester", listRequester)
		}
		if listApprover != "" {
			q.Set("approver", listApprover)
		}
		if listFilter != "" {
			q.Set("filterQuery", listFilter)
		}
		if listPageSize > 0 {
			q.Set("pageSize", strconv.Itoa(listPageSize))
		}
		path := requestsAPIBase + "/requests"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		if wantsStructured() {
			var raw map[string]any
			if err := client.getJSON(path, &raw); err != nil {
				return fmt.Errorf("failed to list requests: %w", err)
			}
			return encode(raw)
		}

		var result requestList
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list requests: %w", err)
		}
		headers := []string{"ID", "Title", "Status", "Requester", "Approver", "Next"}
		rows := make([][]string, 0, len(result.Items))
		for _, r := range result.Items {
			rows = append(rows, []string{
				r.FormattedID,
				ellipsize(r.Title, 40),
				r.Status,
				r.Requester.String(),
				r.Approver.String(),
				r.NextStatus,
			})
		}
		writeTable(headers, rows)
		fmt.Fprintf(stdout, "Total: %d\n", result.Size)
		return nil
	},
}

var requestsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a requirement request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		path := requestPath(args[0])

		if wantsStructured() {
			var raw map[string]any
			if err := client.getJSON(path, &raw); err != nil {
				return fmt.Errorf("failed to get request: %w", err)
			}
			return encode(raw)
		}

		var r requestView
		if err := client.getJSON(path, &r); err != nil {
			return fmt.Errorf("failed to get request: %w", err)
		}
		printRequest(r)
		return nil
	},
}

var (
	createTitle string
	createFile  string
)

var requestsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Save a new draft request",
	Long: `Save a new draft request. Fields are read from --file (YAML or JSON,
using the API field names); --title overrides the file's title.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := loadRequestBody(createFile)
		if err != nil {
			return err
		}
		if createTitle != "" {
			body["title"] = createTitle
		}

		var r requestView
		if err := newClient().postJSON(requestsAPIBase+"/requests", body, &r); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if wantsStructured() {
			return encode(r)
		}
		fmt.Fprintf(stdout, "Created %s (%s)\n", r.FormattedID, r.Status)
		return nil
	},
}

var requestsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a request and its notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().delete(requestPath(args[0])); err != nil {
			return fmt.Errorf("failed to delete request: %w", err)
		}
		fmt.Fprintf(stdout, "Deleted %s\n", args[0])
		return nil
	},
}

var requestsNotesCmd = &cobra.Command{
	Use:   "notes <id>",
	Short: "Show the audit notes of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result noteList
		if err := newClient().getJSON(requestPath(args[0])+"/notes", &result); err != nil {
			return fmt.Errorf("failed to list notes: %w", err)
		}
		if wantsStructured() {
			return encode(result)
		}
		headers := []string{"When", "Tag", "Author", "Title", "Text"}
		rows := make([][]string, 0, len(result.Items))
		for _, n := range result.Items {
			rows = append(rows, []string{n.Modified, n.Tag, n.Author.String(), n.Title, ellipsize(n.Text, 60)})
		}
		writeTable(headers, rows)
		return nil
	},
}

var (
	commentTitle string
	commentText  string
)

var requestsCommentCmd = &cobra.Command{
	Use:   "comment <id>",
	Short: "Add a free-form comment to a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"title": commentTitle, "text": commentText}
		var n note
		if err := newClient().postJSON(requestPath(args[0])+"/notes", body, &n); err != nil {
			return fmt.Errorf("failed to add comment: %w", err)
		}
		if wantsStructured() {
			return encode(n)
		}
		fmt.Fprintf(stdout, "Comment added to %s\n", args[0])
		return nil
	},
}

var transitionComment string

// transitionVerbs maps CLI verbs to target statuses.
var transitionVerbs = []struct {
	verb   string
	target string
	short  string
}{
	{"submit", "SUBMITTED", "Submit a draft request for approval"},
	{"resubmit", "SUBMITTED", "Resubmit a disapproved or declined request"},
	{"approve", "APPROVED", "Approve as the designated approver"},
	{"disapprove", "DISAPPROVED", "Disapprove as the designated approver"},
	{"accept", "ACCEPTED", "Accept as a requirements manager"},
	{"decline", "DECLINED", "Decline as a requirements manager"},
	{"cito-approve", "CITO_APPROVED", "Record the CITO approval"},
	{"cito-disapprove", "CITO_DISAPPROVED", "Record the CITO disapproval"},
	{"review", "REVIEW", "Move an approved request into review"},
	{"contract", "CONTRACT", "Move a reviewed request into contracting"},
	{"close", "CLOSED", "Close a contracted request"},
	{"cancel", "CANCELLED", "Cancel a request"},
}

var requestsTransitionCmd = &cobra.Command{
	Use:   "transition <id> <status>",
	Short: "Move a request to the given status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(args[0], strings.ToUpper(args[1]), transitionComment)
	},
}

func newTransitionVerbCmd(verb, target, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(args[0], target, transitionComment)
		},
	}
}

// runTransition fetches the current concurrency token and posts the
// transition with it.
func runTransition(id, target, comment string) error {
	client := newClient()
	path := requestPath(id)

	var current requestView
	if err := client.getJSON(path, &current); err != nil {
		return fmt.Errorf("failed to load request: %w", err)
	}

	body := map[string]any{
		"targetStatus":     target,
		"comment":          comment,
		"concurrencyToken": current.ConcurrencyToken,
	}
	var result transitionResult
	if err := client.postJSON(path+"/transitions", body, &result); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", id, target, err)
	}

	if wantsStructured() {
		return encode(result)
	}
	fmt.Fprintf(stdout, "%s: %s -> %s\n", result.Request.FormattedID, current.Status, result.Request.Status)
	if result.NotificationError != "" {
		fmt.Fprintf(stdout, "Warning: notification failed: %s\n", result.NotificationError)
	}
	return nil
}

func requestPath(id string) string {
	return requestsAPIBase + "/requests/" + url.PathEscape(strings.TrimSpace(id))
}

// loadRequestBody reads request fields from a YAML or JSON file. An empty
// path yields an empty body.
func loadRequestBody(path string) (map[string]any, error) {
	body := map[string]any{}
	if path == "" {
		return body, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	// YAML is a superset of JSON.
	if err := yaml.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

func printRequest(r requestView) {
	rows := [][]string{
		{"ID", r.FormattedID},
		{"Title", r.Title},
		{"Status", r.Status},
		{"Requester", r.Requester.String()},
		{"Approver", r.Approver.String()},
		{"Next", r.NextStatus},
		{"Allowed", strings.Join(r.AllowedTransitions, ", ")},
		{"Read-only", strconv.FormatBool(r.ReadOnly)},
		{"Updated", r.UpdatedAt},
	}
	writeTable([]string{"Field", "Value"}, rows)
}

func init() {
	requestsListCmd.Flags().StringVar(&listStatus, "status", "", "Only requests in this status")
	requestsListCmd.Flags().StringVar(&listRequester, "requester", "", "Only requests of this requester email")
	requestsListCmd.Flags().StringVar(&listApprover, "approver", "", "Only requests awaiting this approver email")
	requestsListCmd.Flags().StringVar(&listFilter, "filter", "", `Filter expression, e.g. status = "SUBMITTED" and funded = true`)
	requestsListCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Maximum number of results")

	requestsCreateCmd.Flags().StringVar(&createTitle, "title", "", "Request title")
	requestsCreateCmd.Flags().StringVarP(&createFile, "file", "f", "", "YAML or JSON file with request fields")

	requestsCommentCmd.Flags().StringVar(&commentTitle, "title", "", "Comment title")
	requestsCommentCmd.Flags().StringVar(&commentText, "text", "", "Comment text")
	_ = requestsCommentCmd.MarkFlagRequired("text")

	requestsCmd.PersistentFlags().StringVarP(&transitionComment, "comment", "c", "", "Comment recorded with a transition")

	requestsCmd.AddCommand(requestsListCmd, requestsGetCmd, requestsCreateCmd, requestsDeleteCmd,
		requestsNotesCmd, requestsCommentCmd, requestsTransitionCmd)
	for _, v := range transitionVerbs {
		requestsCmd.AddCommand(newTransitionVerbCmd(v.verb, v.target, v.short))
	}
}
