package protocol

import "github.com/tdex-network/tdex-p2p/internal/core/domain"

// Step identifies a protocol task independently of the role running it.
// The concrete task is resolved through the (role, step) table.
type Step int

const (
	StepUndefined Step = iota
	StepCreateDepositInputs
	StepSendDepositInputsRequest
	StepProcessDepositInputsRequest
	StepVerifyPeerPaymentAccount
	StepCreateAndSignDepositTx
	StepSendPreparedDepositTx
	StepProcessPreparedDepositTx
	StepVerifyPreparedDepositTx
	StepSignAndPublishDepositTx
	StepCommitDepositTx
	StepSendDepositTxPublished
	StepProcessDepositTxPublished
	StepSetDepositConfirmed
	StepSignPayoutTx
	StepSendPayoutRequest
	StepProcessPayoutRequest
	StepSignAndPublishPayoutTx
	StepCommitPayoutTx
	StepSendPayoutTxPublished
	StepProcessPayoutTxPublished
	StepSetPayoutConfirmed
	StepReconcileDepositTx
	StepReconcilePayoutTx
	StepFindDepositTx
)

var stepToString = map[Step]string{
	StepCreateDepositInputs:         "CreateDepositInputs",
	StepSendDepositInputsRequest:    "SendDepositInputsRequest",
	StepProcessDepositInputsRequest: "ProcessDepositInputsRequest",
	StepVerifyPeerPaymentAccount:    "VerifyPeerPaymentAccount",
	StepCreateAndSignDepositTx:      "CreateAndSignDepositTx",
	StepSendPreparedDepositTx:       "SendPreparedDepositTx",
	StepProcessPreparedDepositTx:    "ProcessPreparedDepositTx",
	StepVerifyPreparedDepositTx:     "VerifyPreparedDepositTx",
	StepSignAndPublishDepositTx:     "SignAndPublishDepositTx",
	StepCommitDepositTx:             "CommitDepositTx",
	StepSendDepositTxPublished:      "SendDepositTxPublished",
	StepProcessDepositTxPublished:   "ProcessDepositTxPublished",
	StepSetDepositConfirmed:         "SetDepositConfirmed",
	StepSignPayoutTx:                "SignPayoutTx",
	StepSendPayoutRequest:           "SendPayoutRequest",
	StepProcessPayoutRequest:        "ProcessPayoutRequest",
	StepSignAndPublishPayoutTx:      "SignAndPublishPayoutTx",
	StepCommitPayoutTx:              "CommitPayoutTx",
	StepSendPayoutTxPublished:       "SendPayoutTxPublished",
	StepProcessPayoutTxPublished:    "ProcessPayoutTxPublished",
	StepSetPayoutConfirmed:          "SetPayoutConfirmed",
	StepReconcileDepositTx:          "ReconcileDepositTx",
	StepReconcilePayoutTx:           "ReconcilePayoutTx",
	StepFindDepositTx:               "FindDepositTx",
}

func (s Step) String() string {
	str, ok := stepToString[s]
	if !ok {
		return "Undefined"
	}
	return str
}

type taskGroup map[Step]TaskFunc

var (
	commonTasks = taskGroup{
		StepVerifyPeerPaymentAccount: verifyPeerPaymentAccount,
		StepCreateDepositInputs:      createDepositInputs,
		StepCommitDepositTx:          commitDepositTx,
		StepSetDepositConfirmed:      setDepositConfirmed,
		StepCommitPayoutTx:           commitPayoutTx,
		StepSetPayoutConfirmed:       setPayoutConfirmed,
	}
	takerTasks = taskGroup{
		StepSendDepositInputsRequest: sendDepositInputsRequest,
		StepProcessPreparedDepositTx: processPreparedDepositTx,
		StepVerifyPreparedDepositTx:  verifyPreparedDepositTx,
		StepSignAndPublishDepositTx:  signAndPublishDepositTx,
		StepSendDepositTxPublished:   sendDepositTxPublished,
		StepReconcileDepositTx:       reconcileDepositTx,
	}
	makerTasks = taskGroup{
		StepProcessDepositInputsRequest: processDepositInputsRequest,
		StepCreateAndSignDepositTx:      createAndSignDepositTx,
		StepSendPreparedDepositTx:       sendPreparedDepositTx,
		StepProcessDepositTxPublished:   processDepositTxPublished,
		StepFindDepositTx:               findDepositTx,
	}
	buyerTasks = taskGroup{
		StepSignPayoutTx:             signPayoutTx,
		StepSendPayoutRequest:        sendPayoutRequest,
		StepProcessPayoutTxPublished: processPayoutTxPublished,
	}
	sellerTasks = taskGroup{
		StepProcessPayoutRequest:   processPayoutRequest,
		StepSignAndPublishPayoutTx: signAndPublishPayoutTx,
		StepSendPayoutTxPublished:  sendPayoutTxPublished,
		StepReconcilePayoutTx:      reconcilePayoutTx,
	}

	// taskTable is built in init since tasks resolve their follow-up steps
	// through it.
	taskTable map[domain.Role]taskGroup
)

func init() {
	taskTable = buildTaskTable()
}

func buildTaskTable() map[domain.Role]taskGroup {
	table := make(map[domain.Role]taskGroup)
	for _, role := range domain.Roles {
		groups := []taskGroup{commonTasks}
		if role.IsMaker() {
			groups = append(groups, makerTasks)
		} else {
			groups = append(groups, takerTasks)
		}
		if role.IsBuyer() {
			groups = append(groups, buyerTasks)
		} else {
			groups = append(groups, sellerTasks)
		}

		tasks := make(taskGroup)
		for _, g := range groups {
			for step, fn := range g {
				tasks[step] = fn
			}
		}
		table[role] = tasks
	}
	return table
}

// lookupTask returns the task implementing step for role.
func lookupTask(role domain.Role, step Step) (TaskFunc, bool) {
	tasks, ok := taskTable[role]
	if !ok {
		return nil, false
	}
	fn, ok := tasks[step]
	return fn, ok
}
