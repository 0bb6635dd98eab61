package data

import (
	"context"
	"errors"
	"fmt"

	"andstatus/internal/database"
	"andstatus/internal/models"
)

// ResolveAccountUser makes sure the account-holder has a user row and
// returns the account with UserID filled in. Annotations are keyed by it.
func ResolveAccountUser(ctx context.Context, store database.Store, resolver *Resolver, account models.Account) (models.Account, error) {
	if !account.IsValid() {
		return account, errors.New("account needs a name and a user oid")
	}
	if resolver == nil {
		resolver = NewResolver(store, nil)
	}

	id, err := resolver.OidToID(ctx, database.KindUser, account.OriginID, account.UserOid)
	if err != nil {
		return account, fmt.Errorf("resolve account user: %w", err)
	}
	if id == 0 {
		username := account.Username
		if username == "" {
			username = "id:" + account.UserOid
		}
		id, err = store.InsertUser(ctx, 0, &database.UserValues{
			OriginID:    database.Ptr(account.OriginID),
			Oid:         database.Ptr(account.UserOid),
			Username:    database.Ptr(username),
			WebFingerID: database.Ptr(username),
			RealName:    database.Ptr(username),
		})
		if err != nil {
			return account, fmt.Errorf("insert account user: %w", err)
		}
		resolver.Remember(ctx, database.KindUser, account.OriginID, account.UserOid, id)
	}
	account.UserID = id
	return account, nil
}
