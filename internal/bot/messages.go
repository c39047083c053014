package bot

import (
	"fmt"
	"html"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// Categories is the fixed, ordered list offered for every transaction.
// Callback data refers to a category by its index, so append only.
var Categories = []string{
	"Investment",
	"Home & Essentials",
	"Commute",
	"Discretionary",
	"Shopping",
	"Health & Wellbeing",
	"Miscellaneous",
}

const (
	msgStart = "Hi %s! I'm your expense tracking bot. " +
		"I'll notify you when new expenses are added to your Google Sheet.\n\n" +
		"<b>Commands:</b>\n" +
		"/check - Manually check for new transactions\n" +
		"/cancel - Cancel all open categorizations\n"

	msgChecking          = "Checking for new transactions..."
	msgNoTransactions    = "No new transactions found."
	msgFoundTransactions = "Found %d new transactions."

	msgNotification = "📝 <b>New Transaction</b>\n\n" +
		"<b>Date:</b> %s\n" +
		"<b>Recipient:</b> %s\n" +
		"<b>Amount:</b> %s\n" +
		"<b>Bank:</b> %s\n" +
		"<b>Mode:</b> %s\n\n" +
		"Please categorize this transaction:"

	msgCategorySelected = "Category selected: <b>%s</b>\n\n" +
		"Is this a shared expense or solo expense?"

	msgSharedExpense = "This is a shared expense.\n\n" +
		"Total amount: <b>%s</b>\n\n" +
		"Please enter your share amount:"
	msgSharePrompt = "Enter your share amount for this transaction:"

	msgInvalidFormat   = "Invalid amount format. Please enter a numeric value:"
	msgInvalidNegative = "Share amount cannot be negative. Please enter a valid amount:"
	msgInvalidExceeds  = "Share amount (%s) cannot be greater than total amount (%s). Please enter a valid amount:"

	msgUpdated = "✅ <b>Transaction Updated</b>\n\n" +
		"<b>Recipient:</b> %s\n" +
		"<b>Amount:</b> %s\n" +
		"<b>Category:</b> %s\n" +
		"<b>Type:</b> %s expense\n" +
		"%s"
	msgUpdateFailed = "❌ <b>Failed to Update Transaction</b>\n\n" +
		"There was an error updating the transaction. " +
		"Please try again later."

	msgContextNotFound = "Error: Conversation context not found. Please try again."
	msgGeneralError    = "An error occurred. Please try again later."
	msgCancelled       = "Transaction categorization cancelled."
	msgNothingToCancel = "There is nothing to cancel."
	msgCancelledAll    = "Cancelled %d open categorizations."
	msgExpired         = "⌛ Categorization of <b>%s</b> (%s) expired without an answer."
	msgUnauthorized    = "Sorry, you are not authorized to use this bot."
	msgAuthorizeUsage  = "Usage: /authorize <user_id>"
	msgAuthorized      = "User %d is now authorized."

	btnShared = "Shared Expense"
	btnSolo   = "Solo Expense"
	btnCancel = "Cancel"

	typeShared = "Shared"
	typeSolo   = "Solo"

	categoriesPerRow = 2
)

func notificationText(tx domain.Transaction) string {
	return fmt.Sprintf(msgNotification,
		html.EscapeString(tx.Date),
		html.EscapeString(tx.Recipient),
		html.EscapeString(domain.FormatAmount(tx.Amount)),
		html.EscapeString(tx.Bank),
		html.EscapeString(tx.Mode),
	)
}

func updatedText(tx domain.Transaction) string {
	kind := typeSolo
	if tx.Shared() {
		kind = typeShared
	}
	return fmt.Sprintf(msgUpdated,
		html.EscapeString(tx.Recipient),
		domain.FormatAmount(tx.Amount),
		html.EscapeString(tx.CategoryName()),
		kind,
		fmt.Sprintf("<b>Your share:</b> %s", domain.FormatAmount(tx.UserShare)),
	)
}

// StartText is the greeting for /start.
func StartText(firstName string) string {
	return fmt.Sprintf(msgStart, html.EscapeString(firstName))
}

// CheckingText is sent while an on-demand poll runs.
func CheckingText() string { return msgChecking }

// CheckResultText reports the outcome of an on-demand poll.
func CheckResultText(found int) string {
	if found == 0 {
		return msgNoTransactions
	}
	return fmt.Sprintf(msgFoundTransactions, found)
}

// UnauthorizedText is the reply to users outside the allowlist.
func UnauthorizedText() string { return msgUnauthorized }

// AuthorizeUsageText explains /authorize.
func AuthorizeUsageText() string { return msgAuthorizeUsage }

// AuthorizedText confirms /authorize.
func AuthorizedText(userID int64) string { return fmt.Sprintf(msgAuthorized, userID) }

// GeneralErrorText is the generic failure reply.
func GeneralErrorText() string { return msgGeneralError }
