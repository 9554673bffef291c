// Package secrets redacts credentials from text before it is persisted.
//
// Detection uses the gitleaks default rule set. Matches are replaced with
// [REDACTED:rule-id:preview] markers so the ledger still shows what kind of
// value was edited. Project (.gitleaks.toml) and user allowlists exclude
// known-safe patterns.
package secrets
