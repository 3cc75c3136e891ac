package agent

import (
	"context"
	stdErrors "errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/intent"
	"FlowAgent-Chain/internal/storage/mysql"
	"FlowAgent-Chain/internal/task"
	"FlowAgent-Chain/internal/web3"
)

func newActivities(t *testing.T) *mysql.MemoryActivityRepository {
	t.Helper()
	repo, err := mysql.NewMemoryActivityRepository(t.TempDir())
	if err != nil {
		t.Fatalf("activity repo: %v", err)
	}
	return repo
}

func TestCheckAvailabilityRunsWithoutConfirmation(t *testing.T) {
	conn := newStubConn(web3.ChainIDSepolia)
	conn.contract(contracts.FlowENSIntegration).reads["isAvailable"] = []any{true}
	activities := newActivities(t)
	ag := newTestAgent(conn, WithActivityRepository(activities))

	msg, err := ag.HandleMessage(context.Background(), "Check ENS availability: flow.agent.eth", MessageContext{Connected: true})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if msg.Intent == nil || msg.Intent.Type != intent.TypeCheck || msg.Intent.Parameters()["name"] != "flow.agent.eth" {
		t.Fatalf("unexpected intent %+v", msg.Intent)
	}
	if msg.PendingAction == nil || msg.PendingAction.Type != action.TypeENSCheck {
		t.Fatalf("unexpected action %+v", msg.PendingAction)
	}
	if msg.State != StateCompleted {
		t.Fatalf("expected completed read, got %s", msg.State)
	}
	if msg.Content != `ENS name "flow.agent.eth" is available for registration` {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	last := msg.Statuses[len(msg.Statuses)-1]
	if last.Status != StatusCompleted || last.TxHash != "" {
		t.Fatalf("read must not carry a hash: %+v", last)
	}

	feed, err := ag.Activities(context.Background(), 10)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(feed) != 1 || feed[0].ActionType != "ens_check" || feed[0].Status != "completed" {
		t.Fatalf("unexpected activity feed %+v", feed)
	}
}

func TestCreateENSConfirmRegistersWithLivePrice(t *testing.T) {
	conn := newStubConn(web3.ChainIDSepolia)
	integration := conn.contract(contracts.FlowENSIntegration)
	integration.reads["rentPrice"] = []any{action.MustParseEther("0.3")}
	ag := newTestAgent(conn)

	msg, err := ag.HandleMessage(context.Background(), "Create agent ENS: kwame.agent.eth", MessageContext{Connected: true})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if msg.State != StateAwaitingConfirmation || !msg.NeedsConfirmation {
		t.Fatalf("expected confirmation request, got %+v", msg)
	}
	if msg.PendingAction.Type != action.TypeENSCreate || msg.PendingAction.EstimatedCost != "0.3" {
		t.Fatalf("unexpected pending action %+v", msg.PendingAction)
	}
	if !strings.Contains(msg.Content, "Estimated cost: 0.3 ETH") {
		t.Fatalf("confirmation text missing cost: %q", msg.Content)
	}

	done, err := ag.Confirm(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.State != StateCompleted {
		t.Fatalf("expected completed, got %s: %s", done.State, done.Content)
	}
	if !strings.Contains(done.Content, "ENS name kwame.agent.eth registered.") ||
		!strings.Contains(done.Content, "https://sepolia.etherscan.io/tx/0x") {
		t.Fatalf("unexpected display %q", done.Content)
	}

	var writes []call
	for _, c := range integration.recorded() {
		if c.write {
			writes = append(writes, c)
		}
	}
	if len(writes) != 1 || writes[0].method != "registerENSName" {
		t.Fatalf("expected one registration, got %+v", writes)
	}
	if writes[0].value.Cmp(action.MustParseEther("0.3")) != 0 {
		t.Fatalf("unexpected value %s", writes[0].value)
	}
	if duration, ok := writes[0].args[1].(*big.Int); !ok || duration.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("unexpected duration %v", writes[0].args[1])
	}

	stored, err := ag.Tasks().Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if stored.Status != task.StatusCompleted || stored.TxHash == "" {
		t.Fatalf("unexpected task %+v", stored)
	}

	if _, err := ag.Confirm(context.Background(), msg.ID); err == nil || xerrors.CodeOf(err) != CodeMessageState {
		t.Fatalf("expected terminal message to reject a second confirm, got %v", err)
	}
}

func TestConfirmOnWrongNetworkMakesNoCalls(t *testing.T) {
	conn := newStubConn(web3.ChainIDMainnet)
	ag := newTestAgent(conn)

	msg, err := ag.HandleMessage(context.Background(), "Create agent ENS: kwame.agent.eth", MessageContext{Connected: true})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if msg.PendingAction.EstimatedCost != "0.01" {
		t.Fatalf("expected fallback estimate without integration contract, got %q", msg.PendingAction.EstimatedCost)
	}

	done, err := ag.Confirm(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.State != StateFailed || done.ErrorCode != xerrors.CodeWrongNetwork {
		t.Fatalf("expected wrong network failure, got %+v", done)
	}
	if !strings.Contains(done.Content, "switch to Ethereum Sepolia") {
		t.Fatalf("expected switch instruction, got %q", done.Content)
	}
	if conn.totalCalls() != 0 {
		t.Fatalf("expected no contract calls, got %d", conn.totalCalls())
	}
	if _, err := ag.Tasks().Get(context.Background(), msg.ID); !stdErrors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("guard failure must not create a task, got %v", err)
	}
}

func TestConfirmWithInsufficientFunds(t *testing.T) {
	conn := newStubConn(web3.ChainIDSepolia)
	conn.balance = action.MustParseEther("0.1")
	conn.contract(contracts.FlowPayments)
	ag := newTestAgent(conn)

	msg, err := ag.HandleMessage(context.Background(), "Send 0.5 ETH to kwame.agent.eth", MessageContext{Connected: true})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	done, err := ag.Confirm(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.State != StateFailed || done.ErrorCode != xerrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %+v", done)
	}
	if !strings.Contains(done.Content, "Required: 0.5, available: 0.1.") {
		t.Fatalf("expected amounts in display, got %q", done.Content)
	}
	if conn.totalCalls() != 0 {
		t.Fatalf("expected zero contract calls, got %d", conn.totalCalls())
	}
	stored, _ := ag.Tasks().Get(context.Background(), msg.ID)
	if stored == nil || stored.Status != task.StatusFailed || stored.ErrorCode != string(xerrors.CodeInsufficientFunds) {
		t.Fatalf("unexpected task %+v", stored)
	}
}

func TestRejectBeforeConfirm(t *testing.T) {
	conn := newStubConn(web3.ChainIDSepolia)
	conn.contract(contracts.FlowPayments)
	ag := newTestAgent(conn)

	msg, _ := ag.HandleMessage(context.Background(), "Send 0.5 ETH to kwame.agent.eth", MessageContext{Connected: true})
	rejected, err := ag.Reject(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.State != StateCancelled || !strings.Contains(rejected.Content, "was not submitted") {
		t.Fatalf("unexpected rejection %+v", rejected)
	}
	if _, err := ag.Confirm(context.Background(), msg.ID); xerrors.CodeOf(err) != CodeMessageState {
		t.Fatalf("cancelled message must not be confirmed, got %v", err)
	}
	if _, err := ag.Reject(context.Background(), msg.ID); xerrors.CodeOf(err) != CodeMessageState {
		t.Fatalf("second reject should fail, got %v", err)
	}
	if conn.totalCalls() != 0 {
		t.Fatalf("expected no calls, got %d", conn.totalCalls())
	}
}

func TestRejectAbortsInflightDispatch(t *testing.T) {
	conn := newStubConn(web3.ChainIDSepolia)
	payments := conn.contract(contracts.FlowPayments)
	payments.blocking = true
	ag := newTestAgent(conn)

	msg, _ := ag.HandleMessage(context.Background(), "Send 0.5 ETH to kwame.agent.eth", MessageContext{Connected: true})

	confirmed := make(chan *Message, 1)
	go func() {
		done, _ := ag.Confirm(context.Background(), msg.ID)
		confirmed <- done
	}()

	select {
	case <-payments.started:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never started")
	}
	if _, err := ag.Reject(context.Background(), msg.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	select {
	case done := <-confirmed:
		if done.State != StateCancelled {
			t.Fatalf("expected cancelled message, got %s", done.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirm did not return after reject")
	}
	stored, _ := ag.Tasks().Get(context.Background(), msg.ID)
	if stored == nil || stored.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled task, got %+v", stored)
	}
	if len(payments.recorded()) != 1 {
		t.Fatalf("expected a single submission attempt, got %d", len(payments.recorded()))
	}
}

func TestAsyncPipelineCompletesThroughQueue(t *testing.T) {
	conn := newStubConn(web3.ChainIDSepolia)
	conn.contract(contracts.FlowPayments)
	ag := newTestAgent(conn)

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(8)
	service := task.NewService(store, task.WithProducer(queue))
	processor := task.NewProcessor(ag, store, queue)
	service.SetAborter(processor)
	ag.UsePipeline(service, processor, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = processor.Start(ctx) }()

	msg, _ := ag.HandleMessage(ctx, "Send 0.5 ETH to kwame.agent.eth", MessageContext{Connected: true})
	pending, err := ag.Confirm(ctx, msg.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if pending.State != StatePending && pending.State != StateCompleted {
		t.Fatalf("unexpected state after enqueue %s", pending.State)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	finished, err := service.WaitUntilCompleted(waitCtx, msg.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if finished.Status != task.StatusCompleted {
		t.Fatalf("expected completed task, got %+v", finished)
	}
	done, _ := ag.Message(ctx, msg.ID)
	if done.State != StateCompleted || !strings.Contains(done.Content, "Sent 0.5 to kwame.agent.eth.") {
		t.Fatalf("unexpected message %+v", done)
	}
}

func TestFallbackReplies(t *testing.T) {
	ag := newTestAgent(newStubConn(web3.ChainIDSepolia))

	help, err := ag.HandleMessage(context.Background(), "hello there", MessageContext{})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if help.State != StateInfo || !strings.Contains(help.Content, Examples[0]) {
		t.Fatalf("expected help text, got %+v", help)
	}

	hint, _ := ag.HandleMessage(context.Background(), "please send it", MessageContext{})
	if !strings.Contains(hint.Content, "could not work out its details") {
		t.Fatalf("expected confirmation hint, got %q", hint.Content)
	}

	model := &stubLLM{reply: "Try checking a name first."}
	withLLM := newTestAgent(newStubConn(web3.ChainIDSepolia), WithLLM(model, time.Second))
	reply, _ := withLLM.HandleMessage(context.Background(), "what is ENS?", MessageContext{Network: "Sepolia", ChainID: web3.ChainIDSepolia})
	if reply.Content != "Try checking a name first." {
		t.Fatalf("unexpected llm reply %q", reply.Content)
	}
	if model.last.ChainID != web3.ChainIDSepolia || len(model.last.Examples) == 0 {
		t.Fatalf("llm request missing context %+v", model.last)
	}

	failing := newTestAgent(newStubConn(web3.ChainIDSepolia), WithLLM(&stubLLM{err: stdErrors.New("offline")}, time.Second))
	fallback, _ := failing.HandleMessage(context.Background(), "what is ENS?", MessageContext{})
	if !strings.HasPrefix(fallback.Content, helpText) {
		t.Fatalf("expected help text when llm fails, got %q", fallback.Content)
	}
}

func TestBuildValidationFailureIsReported(t *testing.T) {
	ag := newTestAgent(newStubConn(web3.ChainIDSepolia))
	msg, err := ag.HandleMessage(context.Background(), "Send 0 ETH to kwame.agent.eth", MessageContext{})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg.State != StateFailed || msg.ErrorCode != xerrors.CodeValidation {
		t.Fatalf("expected validation failure, got %+v", msg)
	}
}

func TestGreeting(t *testing.T) {
	ag := newTestAgent(newStubConn(web3.ChainIDSepolia))
	msg := ag.Greeting(context.Background(), MessageContext{AgentName: "kwame.agent.eth", Connected: true, Network: "Ethereum Sepolia"})
	if !strings.HasPrefix(msg.Content, "Hi, I'm kwame.agent.eth.") || !strings.Contains(msg.Content, "connected to Ethereum Sepolia") {
		t.Fatalf("unexpected greeting %q", msg.Content)
	}
	if _, err := ag.Message(context.Background(), msg.ID); err != nil {
		t.Fatalf("greeting should be stored: %v", err)
	}
	offline := ag.Greeting(context.Background(), MessageContext{})
	if !strings.Contains(offline.Content, "Connect your wallet") {
		t.Fatalf("unexpected offline greeting %q", offline.Content)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	ag := newTestAgent(newStubConn(web3.ChainIDSepolia))
	if _, err := ag.HandleMessage(context.Background(), "  ", MessageContext{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := ag.Confirm(context.Background(), "missing"); xerrors.CodeOf(err) != CodeMessageNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExamplesBuildRunnableActions(t *testing.T) {
	caller := action.WithCaller(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	builder := action.NewBuilder()
	for _, example := range Examples {
		in, ok := intent.Detect(example)
		if !ok {
			t.Fatalf("example %q is not recognized", example)
		}
		if _, err := builder.Build(context.Background(), in, caller); err != nil {
			t.Fatalf("example %q: %v", example, err)
		}
	}
	for _, text := range []string{"Create a DAO", "Create Multi-Signature Wallet"} {
		in, _ := intent.Detect(text)
		act, err := builder.Build(context.Background(), in, caller)
		if err != nil {
			t.Fatalf("%q: %v", text, err)
		}
		if act.Params.String("ensName") == "" {
			t.Fatalf("%q: expected a default ens name", text)
		}
	}
}

func TestAgentExistsReadsRegistry(t *testing.T) {
	conn := newStubConn(31337)
	registry := conn.contract(contracts.FlowAgentRegistry)
	ag := newTestAgent(conn)

	exists, err := ag.AgentExists(context.Background(), "Helper.eth")
	if err != nil {
		t.Fatalf("agent exists: %v", err)
	}
	if exists {
		t.Fatal("expected unregistered name")
	}

	registry.reads["ensNameToAgentId"] = []any{big.NewInt(4)}
	exists, err = ag.AgentExists(context.Background(), "helper.eth")
	if err != nil {
		t.Fatalf("agent exists: %v", err)
	}
	if !exists {
		t.Fatal("expected registered name")
	}

	if _, err := ag.AgentExists(context.Background(), "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
