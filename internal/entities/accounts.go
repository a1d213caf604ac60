package entities

import "github.com/guregu/null"

// Account is one row of the client.get listing. The relation fields are null
// for the authenticating user itself, which is synthesized into the listing as
// its first element.
type Account struct {
	UserID              int64       `json:"userId"`
	Username            string      `json:"username"`
	Access              null.String `json:"access"`
	RelationName        null.String `json:"relationName"`
	RelationStatus      null.String `json:"relationStatus"`
	RelationType        null.String `json:"relationType"`
	WalletCredit        null.Int    `json:"walletCredit"`
	WalletCreditWithVat null.Int    `json:"walletCreditWithVat"`
	WalletVerified      null.Bool   `json:"walletVerified"`
	AccountLimit        null.Int    `json:"accountLimit"`
	DayBudgetSum        null.Int    `json:"dayBudgetSum"`
}

// User is the nested identity object returned by client.get.
type User struct {
	UserID              int64     `json:"userId"`
	Username            string    `json:"username"`
	WalletCredit        null.Int  `json:"walletCredit"`
	WalletCreditWithVat null.Int  `json:"walletCreditWithVat"`
	WalletVerified      null.Bool `json:"walletVerified"`
	AccountLimit        null.Int  `json:"accountLimit"`
	DayBudgetSum        null.Int  `json:"dayBudgetSum"`
}

// AccountFromUser builds the synthesized first account of the listing.
func AccountFromUser(u User) Account {
	return Account{
		UserID:              u.UserID,
		Username:            u.Username,
		WalletCredit:        u.WalletCredit,
		WalletCreditWithVat: u.WalletCreditWithVat,
		WalletVerified:      u.WalletVerified,
		AccountLimit:        u.AccountLimit,
		DayBudgetSum:        u.DayBudgetSum,
	}
}
