package contracts

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ContractVersion is the version of the request/response contract this
// build speaks.
const ContractVersion = "1.0.0"

// supportedContracts is the range of contract versions the decision endpoint
// accepts from callers that declare one.
var supportedContracts = semver.MustParse(ContractVersion)

var supportedRange, _ = semver.NewConstraint("^1.0")

// CheckContractVersion validates an optional caller-declared contract
// version. An empty version is accepted (the caller takes the current
// contract); a malformed or incompatible one is a boundary rejection.
func CheckContractVersion(v string) error {
	if v == "" {
		return nil
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("malformed contract version %q: %w", v, err)
	}
	if !supportedRange.Check(parsed) {
		return fmt.Errorf("contract version %s outside supported range ^1.0 (current %s)", parsed, supportedContracts)
	}
	return nil
}
