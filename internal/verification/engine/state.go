package engine

// State is a step of a verification run.
type State int

const (
	StateInit State = iota
	StateOnchainRuntimeFetched
	StateCompiled
	StatePerfectMetadataRecovery
	StateLengthChecked
	StateAuxdataPositioned
	StateRuntimeMatchAttempted
	StateCreationTxResolved
	StateCreationMatchAttempted
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StateInit:                    "init",
	StateOnchainRuntimeFetched:   "onchain_runtime_fetched",
	StateCompiled:                "compiled",
	StatePerfectMetadataRecovery: "perfect_metadata_recovery",
	StateLengthChecked:           "length_checked",
	StateAuxdataPositioned:       "auxdata_positioned",
	StateRuntimeMatchAttempted:   "runtime_match_attempted",
	StateCreationTxResolved:      "creation_tx_resolved",
	StateCreationMatchAttempted:  "creation_match_attempted",
	StateSucceeded:               "succeeded",
	StateFailed:                  "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
