// Package cli is the interactive operator surface of balli.
//
// NewApp wires the local store, the credential vault, both CGM source
// adapters, the reconciliation engine and the sync coordinator. Run starts a
// line-oriented REPL:
//
//	unlock                  open (or create) the credential vault
//	login share [account]   open a share session
//	token official|sync     store a token obtained out of band
//	readings [hours]        fetch, reconcile and print recent readings
//	sync                    push and pull memory records
//	health, maintain        integrity report and automatic fixes
//	cache                   cache statistics and recommendations
//	med, remember, records, forget
//	logout, exit
//
// Commands touching credentials require an unlocked vault.
package cli
