package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding a reconciliation run.
func ReconcileLockKey(scope string) string {
	return fmt.Sprintf("bookkeeper:reconcile:%s:lock", scope)
}

// BalanceVersionKey holds the cache generation of one ledger balance.
func BalanceVersionKey(ledgerID int64) string {
	return fmt.Sprintf("bookkeeper:ledger:%d:version", ledgerID)
}

// BalanceCacheKey builds the redis key for a ledger balance at a cache generation.
func BalanceCacheKey(ledgerID, version int64) string {
	return fmt.Sprintf("bookkeeper:ledger:%d:balance:%d", ledgerID, version)
}
