package chat

// Stage is a step of the send-message state machine.
type Stage int

// Stage constants, in execution order.
const (
	StageStart Stage = iota
	StageOwnershipChecked
	StageFundsChecked
	StageUserMessagePersisted
	StageLLMInvoked
	StageCostComputed
	StageAssistantMessagePersisted
	StageTransactionRecorded
	StageBalanceDebited
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageStart:                     "start",
	StageOwnershipChecked:          "ownership_checked",
	StageFundsChecked:              "funds_checked",
	StageUserMessagePersisted:      "user_message_persisted",
	StageLLMInvoked:                "llm_invoked",
	StageCostComputed:              "cost_computed",
	StageAssistantMessagePersisted: "assistant_message_persisted",
	StageTransactionRecorded:       "transaction_recorded",
	StageBalanceDebited:            "balance_debited",
	StageDone:                      "done",
	StageFailed:                    "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
