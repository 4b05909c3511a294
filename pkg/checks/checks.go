// Package checks implements declarative assertions over execution results.
//
// A Check is one predicate over an ExecutionResult or over one referenced
// account's post-execution fields. Checks form a closed tagged-variant set
// evaluated by exhaustive matching; evaluation is pure and collects every
// failure rather than stopping at the first, so one failing run surfaces
// every mismatch at once. A failed check is ordinary data, never an error.
package checks

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fortiblox/X1-Crucible/internal/types"
	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
)

// Kind identifies a check variant.
type Kind uint8

const (
	// KindStatus asserts the execution status.
	KindStatus Kind = iota

	// KindComputeUnits asserts consumed units are within a bound.
	KindComputeUnits

	// KindAccountBalance asserts one account's post-execution balance.
	KindAccountBalance

	// KindAccountData asserts one account's post-execution data.
	KindAccountData

	// KindAccountOwner asserts one account's post-execution owner.
	KindAccountOwner

	// KindAccountExecutable asserts one account's executable flag.
	KindAccountExecutable
)

// String returns the check kind name.
func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindComputeUnits:
		return "compute_units"
	case KindAccountBalance:
		return "account_balance"
	case KindAccountData:
		return "account_data"
	case KindAccountOwner:
		return "account_owner"
	case KindAccountExecutable:
		return "account_executable"
	default:
		return fmt.Sprintf("check(%d)", uint8(k))
	}
}

// Check is one declarative assertion.
type Check struct {
	kind       Kind
	status     svm.Status
	maxUnits   uint64
	pubkey     types.Pubkey
	balance    uint64
	data       []byte
	owner      types.Pubkey
	executable bool
}

// Kind returns the check's variant.
func (c Check) Kind() Kind {
	return c.kind
}

// StatusIs asserts the execution status equals want (kind and code;
// messages are free-form diagnostics and are not compared).
func StatusIs(want svm.Status) Check {
	return Check{kind: KindStatus, status: want}
}

// StatusSuccess asserts the execution succeeded.
func StatusSuccess() Check {
	return StatusIs(svm.Success())
}

// ComputeUnitsWithin asserts consumed units do not exceed max.
func ComputeUnitsWithin(max uint64) Check {
	return Check{kind: KindComputeUnits, maxUnits: max}
}

// AccountBalance asserts the post-execution balance of pubkey.
func AccountBalance(pubkey types.Pubkey, want uint64) Check {
	return Check{kind: KindAccountBalance, pubkey: pubkey, balance: want}
}

// AccountData asserts the post-execution data of pubkey, byte-exact.
func AccountData(pubkey types.Pubkey, want []byte) Check {
	return Check{kind: KindAccountData, pubkey: pubkey, data: want}
}

// AccountOwner asserts the post-execution owner of pubkey.
func AccountOwner(pubkey types.Pubkey, want types.Pubkey) Check {
	return Check{kind: KindAccountOwner, pubkey: pubkey, owner: want}
}

// AccountExecutable asserts the post-execution executable flag of pubkey.
func AccountExecutable(pubkey types.Pubkey, want bool) Check {
	return Check{kind: KindAccountExecutable, pubkey: pubkey, executable: want}
}

// Failure describes one failed check.
type Failure struct {
	// Index is the check's position in the evaluated list.
	Index int `json:"index"`

	// Check names the failed check kind.
	Check string `json:"check"`

	// Reason describes the mismatch.
	Reason string `json:"reason"`
}

// String renders the failure.
func (f Failure) String() string {
	return fmt.Sprintf("check %d (%s): %s", f.Index, f.Check, f.Reason)
}

// Report is the outcome of evaluating a check list.
type Report struct {
	// Evaluated is the number of checks evaluated.
	Evaluated int `json:"evaluated"`

	// Failures holds every failed check in evaluation order.
	Failures []Failure `json:"failures,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// String renders the report.
func (r Report) String() string {
	if r.OK() {
		return fmt.Sprintf("%d checks passed", r.Evaluated)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d checks failed:", len(r.Failures), r.Evaluated)
	for _, f := range r.Failures {
		sb.WriteString("\n  ")
		sb.WriteString(f.String())
	}
	return sb.String()
}

// Evaluate runs every check against the result in authoring order and
// collects all failures. Evaluating the same list against the same result
// twice yields the same report.
func Evaluate(checkList []Check, result *svm.ExecutionResult) Report {
	report := Report{Evaluated: len(checkList)}
	for i, check := range checkList {
		if reason, ok := evaluateOne(check, result); !ok {
			report.Failures = append(report.Failures, Failure{
				Index:  i,
				Check:  check.kind.String(),
				Reason: reason,
			})
		}
	}
	return report
}

// evaluateOne evaluates a single check. Returns the failure reason and
// whether the check passed.
func evaluateOne(check Check, result *svm.ExecutionResult) (string, bool) {
	switch check.kind {
	case KindStatus:
		if !result.Status.Equals(check.status) {
			return fmt.Sprintf("status is %s, want %s", result.Status, check.status), false
		}
		return "", true

	case KindComputeUnits:
		if result.ComputeUnits > check.maxUnits {
			return fmt.Sprintf("consumed %d compute units, bound %d", result.ComputeUnits, check.maxUnits), false
		}
		return "", true

	case KindAccountBalance:
		account, reason, ok := lookupAccount(check, result)
		if !ok {
			return reason, false
		}
		if account.Lamports != check.balance {
			return fmt.Sprintf("account %s balance is %d, want %d", check.pubkey, account.Lamports, check.balance), false
		}
		return "", true

	case KindAccountData:
		account, reason, ok := lookupAccount(check, result)
		if !ok {
			return reason, false
		}
		if !bytes.Equal(account.Data, check.data) {
			return fmt.Sprintf("account %s data is %x, want %x", check.pubkey, account.Data, check.data), false
		}
		return "", true

	case KindAccountOwner:
		account, reason, ok := lookupAccount(check, result)
		if !ok {
			return reason, false
		}
		if account.Owner != check.owner {
			return fmt.Sprintf("account %s owner is %s, want %s", check.pubkey, account.Owner, check.owner), false
		}
		return "", true

	case KindAccountExecutable:
		account, reason, ok := lookupAccount(check, result)
		if !ok {
			return reason, false
		}
		if account.Executable != check.executable {
			return fmt.Sprintf("account %s executable is %v, want %v", check.pubkey, account.Executable, check.executable), false
		}
		return "", true

	default:
		return fmt.Sprintf("unrecognized check kind %d", check.kind), false
	}
}

// lookupAccount fetches the post-execution view of the check's account.
// A missing account is a check failure (AccountNotInResult), not a crash.
func lookupAccount(check Check, result *svm.ExecutionResult) (*accounts.Account, string, bool) {
	post, ok := result.Account(check.pubkey)
	if !ok || post == nil {
		return nil, fmt.Sprintf("AccountNotInResult: %s", check.pubkey), false
	}
	return post, "", true
}
