package gmail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendarmcp/internal/auth"
	"github.com/teemow/calendarmcp/internal/gmail"
	"github.com/teemow/calendarmcp/internal/google"
	"github.com/teemow/calendarmcp/internal/instrumentation"
	"github.com/teemow/calendarmcp/internal/server"
	"github.com/teemow/calendarmcp/internal/tools/common"
)

// RegisterGmailTools registers all Gmail-related tools with the MCP server
func RegisterGmailTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := RegisterMessageTools(s, sc); err != nil {
		return fmt.Errorf("failed to register message tools: %w", err)
	}
	if !sc.ReadOnly() {
		if err := RegisterSendTools(s, sc); err != nil {
			return fmt.Errorf("failed to register send tools: %w", err)
		}
	}
	return nil
}

type messageHandler func(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error)

// gmailHandler resolves the session and builds a client before calling fn.
func gmailHandler(sc *server.ServerContext, fn messageHandler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, result := common.ResolveSession(ctx, sc, request, google.ServiceGmail)
		if result != nil {
			return result, nil
		}
		client, err := sc.GmailClient(ctx, session)
		if err != nil {
			return common.ErrorResult(err), nil
		}
		return fn(ctx, request, sc, session, client)
	}
}

func instrumented(toolName, operation string, sc *server.ServerContext, fn messageHandler) mcpserver.ToolHandlerFunc {
	return common.InstrumentedToolHandler(toolName, google.ServiceGmail, operation, sc, gmailHandler(sc, fn))
}

// RegisterMessageTools registers the read-only Gmail tools.
func RegisterMessageTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	listEmailsTool := mcp.NewTool("list_emails",
		mcp.WithDescription("List recent Gmail messages, newest first"),
		common.SessionIDParam(),
		mcp.WithString("query",
			mcp.Description("Gmail search query to filter by (e.g. 'in:inbox is:unread')"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of messages to return (default: 10)"),
		),
		mcp.WithBoolean("include_labels",
			mcp.Description("Include the label IDs of each message (default: false)"),
		),
	)
	s.AddTool(listEmailsTool, instrumented("list_emails", instrumentation.OperationList, sc, handleListEmails))

	searchEmailsTool := mcp.NewTool("search_emails",
		mcp.WithDescription("Search Gmail messages using Gmail search syntax"),
		common.SessionIDParam(),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Gmail search query (e.g. 'from:alice@example.com has:attachment after:2025/01/01')"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of messages to return (default: 10)"),
		),
		mcp.WithBoolean("include_labels",
			mcp.Description("Include the label IDs of each message (default: false)"),
		),
	)
	s.AddTool(searchEmailsTool, instrumented("search_emails", instrumentation.OperationSearch, sc, handleSearchEmails))

	getEmailTool := mcp.NewTool("get_email",
		mcp.WithDescription("Get a Gmail message with its body and attachment list"),
		common.SessionIDParam(),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("ID of the message to retrieve"),
		),
	)
	s.AddTool(getEmailTool, instrumented("get_email", instrumentation.OperationGet, sc, handleGetEmail))

	getLabelsTool := mcp.NewTool("get_labels",
		mcp.WithDescription("List Gmail labels grouped into system and user labels"),
		common.SessionIDParam(),
	)
	s.AddTool(getLabelsTool, instrumented("get_labels", instrumentation.OperationList, sc, handleGetLabels))

	getAttachmentTool := mcp.NewTool("get_attachment",
		mcp.WithDescription("Download a Gmail attachment as base64"),
		common.SessionIDParam(),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("ID of the message containing the attachment"),
		),
		mcp.WithString("attachment_id",
			mcp.Required(),
			mcp.Description("ID of the attachment, see get_email"),
		),
	)
	s.AddTool(getAttachmentTool, instrumented("get_attachment", instrumentation.OperationGet, sc, handleGetAttachment))

	return nil
}

// RegisterSendTools registers the tools that send mail.
func RegisterSendTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	sendEmailTool := mcp.NewTool("send_email",
		mcp.WithDescription("Send a plain text email through Gmail"),
		common.SessionIDParam(),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient email address(es), comma-separated for multiple recipients"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Email subject"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Email body content"),
		),
		mcp.WithString("cc",
			mcp.Description("CC email address(es), comma-separated for multiple recipients"),
		),
		mcp.WithString("bcc",
			mcp.Description("BCC email address(es), comma-separated for multiple recipients"),
		),
	)
	s.AddTool(sendEmailTool, instrumented("send_email", instrumentation.OperationSend, sc, handleSendEmail))

	return nil
}

func handleListEmails(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	messages, err := client.ListMessages(ctx, gmail.ListOptions{
		Query:         common.StringArg(args, "query"),
		MaxResults:    common.IntArg(args, "max_results", gmail.DefaultMaxResults),
		IncludeLabels: common.BoolArg(args, "include_labels", false),
	})
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceGmail, err), nil
	}
	if len(messages) == 0 {
		return mcp.NewToolResultText("No emails found matching your query."), nil
	}
	return mcp.NewToolResultText(formatSummaries("Gmail Messages:", messages, true)), nil
}

func handleSearchEmails(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := common.StringArg(args, "query")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	messages, err := client.ListMessages(ctx, gmail.ListOptions{
		Query:         query,
		MaxResults:    common.IntArg(args, "max_results", gmail.DefaultMaxResults),
		IncludeLabels: common.BoolArg(args, "include_labels", false),
	})
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceGmail, err), nil
	}
	if len(messages) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No emails found matching '%s'.", query)), nil
	}
	return mcp.NewToolResultText(formatSummaries(fmt.Sprintf("Search Results for: '%s'", query), messages, false)), nil
}

func handleGetEmail(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error) {
	messageID := common.StringArg(request.GetArguments(), "message_id")
	if messageID == "" {
		return mcp.NewToolResultError("message_id is required"), nil
	}

	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceGmail, err), nil
	}
	return mcp.NewToolResultText(formatMessage(msg)), nil
}

func handleGetLabels(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error) {
	labels, err := client.ListLabels(ctx)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceGmail, err), nil
	}
	return mcp.NewToolResultText(formatLabels(labels)), nil
}

func handleGetAttachment(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	messageID := common.StringArg(args, "message_id")
	attachmentID := common.StringArg(args, "attachment_id")
	if messageID == "" || attachmentID == "" {
		return mcp.NewToolResultError("message_id and attachment_id are required"), nil
	}

	att, err := client.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceGmail, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Attachment retrieved successfully.\nSize: %s\nData (base64):\n%s",
		formatSize(att.Size), att.Data)), nil
}

func handleSendEmail(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, session *auth.Session, client *gmail.Client) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	in := gmail.SendInput{
		To:      common.StringArg(args, "to"),
		Subject: common.StringArg(args, "subject"),
		Body:    common.StringArg(args, "body"),
		Cc:      common.StringArg(args, "cc"),
		Bcc:     common.StringArg(args, "bcc"),
	}
	for _, f := range []struct{ name, value string }{{"to", in.To}, {"subject", in.Subject}, {"body", in.Body}} {
		if f.value == "" {
			return mcp.NewToolResultError(fmt.Sprintf("'%s' field is required", f.name)), nil
		}
	}

	sent, err := client.SendEmail(ctx, in)
	if err != nil {
		return common.APIErrorResult(ctx, sc, session, google.ServiceGmail, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Email sent successfully.\nMessage ID: %s\nThread ID: %s", sent.ID, sent.ThreadID)), nil
}
