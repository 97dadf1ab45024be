package commandsocket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

// Enqueuer is the scheduler dependency every command handler needs to
// schedule downstream work (§4.7's "task enqueued" column).
type Enqueuer interface {
	Enqueue(kind, target string, dueAt int64)
}

// WakeNotifier broadcasts that a mutation landed, so scheduler pools on
// other enforcerd replicas re-check for due tasks without waiting on their
// own poll interval. Nil-safe: a Dispatcher with no WakeNotifier simply
// relies on the local Enqueuer, which is all a single-replica deployment
// needs.
type WakeNotifier interface {
	PublishWake(ctx context.Context) error
}

// Dispatcher routes parsed Commands to their handler, each running inside
// its own short-lived transaction.
type Dispatcher struct {
	db       ports.Database
	enqueuer Enqueuer
	clock    ports.Clock
	logger   *slog.Logger
	wake     WakeNotifier
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(db ports.Database, enqueuer Enqueuer, clock ports.Clock, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{db: db, enqueuer: enqueuer, clock: clock, logger: logger}
}

// WithWakeNotifier attaches a cluster-wide wake broadcast, fired after every
// successful command commit. Returns the same Dispatcher for chaining.
func (d *Dispatcher) WithWakeNotifier(wake WakeNotifier) *Dispatcher {
	d.wake = wake
	return d
}

// handler runs one command's mutation against an open transaction. A
// returned error that is an *ErrSyntax maps to exit code 2; any other
// error maps to exit code 1; nil maps to exit code 0.
type handler func(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error)

var handlers = map[string]handler{
	"zone add":      handleZoneAdd,
	"zone delete":   handleZoneDelete,
	"key ds-submit": handleKeyDSSubmit,
	"key ds-seen":   handleKeyDSSeen,
	"key ds-retract": handleKeyDSRetract,
	"key ds-gone":   handleKeyDSGone,
	"key rollover":  handleKeyRollover,
	"policy import": handlePolicyImport,
	"policy resalt": handlePolicyResalt,
	"help":          handleHelp,
}

// Result is the outcome of dispatching one command line.
type Result struct {
	Output   string
	ExitCode int
}

// Dispatch parses and runs a single command line.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) Result {
	cmd, err := Parse(line)
	if err != nil {
		return Result{Output: err.Error(), ExitCode: 2}
	}

	h, ok := handlers[cmd.Verb]
	if !ok {
		return Result{Output: fmt.Sprintf("unknown command: %s", cmd.Verb), ExitCode: 2}
	}

	if cmd.Verb == "help" {
		out, _ := h(ctx, d, nil, cmd, 0)
		return Result{Output: out, ExitCode: 0}
	}

	now := d.clock.Now()
	tx, err := d.db.BeginTx(ctx)
	if err != nil {
		return Result{Output: "database unavailable", ExitCode: 1}
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("failed to roll back command transaction", "verb", cmd.Verb, "error", rbErr)
		}
	}()

	out, err := h(ctx, d, tx, cmd, now)
	if err != nil {
		if se, ok := err.(*ErrSyntax); ok {
			return Result{Output: se.Error(), ExitCode: 2}
		}
		return Result{Output: err.Error(), ExitCode: 1}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return Result{Output: fmt.Sprintf("commit failed: %v", commitErr), ExitCode: 1}
	}

	if d.wake != nil {
		if err := d.wake.PublishWake(ctx); err != nil {
			d.logger.Warn("failed to publish cluster wake", "verb", cmd.Verb, "error", err)
		}
	}

	return Result{Output: out, ExitCode: 0}
}

func requireOpt(cmd Command, name string) (string, error) {
	v, ok := cmd.Opts[name]
	if !ok || v == "" {
		return "", syntaxErrorf("missing required option --%s", name)
	}
	return v, nil
}

func handleZoneAdd(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	name, err := requireOpt(cmd, "zone")
	if err != nil {
		return "", err
	}
	policy, err := requireOpt(cmd, "policy")
	if err != nil {
		return "", err
	}
	if err := domain.ValidateZoneName(name); err != nil {
		return "", err
	}

	zone := domain.NewZone("", name, policy)
	if err := tx.CreateZone(ctx, zone); err != nil {
		return "", err
	}
	d.enqueuer.Enqueue("enforce", name, now)
	return fmt.Sprintf("zone %s added under policy %s", name, policy), nil
}

func handleZoneDelete(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	name, err := requireOpt(cmd, "zone")
	if err != nil {
		return "", err
	}
	zone, err := tx.GetZoneByName(ctx, name)
	if err != nil {
		return "", err
	}
	if err := tx.DeleteZone(ctx, zone.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("zone %s marked for purge", name), nil
}

// findMatchingKSK resolves "matching KSK" by either keytag or locator,
// exactly one of which must be supplied alongside --zone (§4.7).
func findMatchingKSK(ctx context.Context, tx ports.Tx, zoneName string, cmd Command) (*domain.Key, error) {
	zone, err := tx.GetZoneByName(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	keytagStr, hasKeytag := cmd.Opts["keytag"]
	locator, hasLocator := cmd.Opts["locator"]
	if hasKeytag == hasLocator {
		return nil, syntaxErrorf("exactly one of --keytag or --locator must be supplied")
	}

	keys, err := tx.ListKeys(ctx, zone.ID)
	if err != nil {
		return nil, err
	}

	if hasLocator {
		for i := range keys {
			if keys[i].Locator == locator && keys[i].Role == domain.RoleKSK {
				return &keys[i], nil
			}
		}
		return nil, fmt.Errorf("no KSK with locator %s on zone %s", locator, zoneName)
	}

	keytag, convErr := strconv.ParseUint(keytagStr, 10, 16)
	if convErr != nil {
		return nil, syntaxErrorf("invalid keytag %q", keytagStr)
	}
	for i := range keys {
		if keys[i].KeyTag == uint16(keytag) && keys[i].Role == domain.RoleKSK {
			return &keys[i], nil
		}
	}
	return nil, fmt.Errorf("no KSK with keytag %d on zone %s", keytag, zoneName)
}

func handleKeyDSSubmit(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	zoneName, err := requireOpt(cmd, "zone")
	if err != nil {
		return "", err
	}
	key, err := findMatchingKSK(ctx, tx, zoneName, cmd)
	if err != nil {
		return "", err
	}
	key.DSAtParent = domain.DSSubmitted
	if err := tx.UpdateKey(ctx, key); err != nil {
		return "", err
	}
	d.enqueuer.Enqueue("enforce", zoneName, now)
	return fmt.Sprintf("keytag %d marked DS SUBMITTED for zone %s", key.KeyTag, zoneName), nil
}

func handleKeyDSSeen(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	zoneName, err := requireOpt(cmd, "zone")
	if err != nil {
		return "", err
	}
	key, err := findMatchingKSK(ctx, tx, zoneName, cmd)
	if err != nil {
		return "", err
	}
	if key.DSAtParent != domain.DSSubmitted {
		return "", fmt.Errorf("keytag %d is not SUBMITTED (currently %s)", key.KeyTag, key.DSAtParent)
	}
	key.DSAtParent = domain.DSSeen
	if err := tx.UpdateKey(ctx, key); err != nil {
		return "", err
	}
	d.enqueuer.Enqueue("enforce", zoneName, now)
	return fmt.Sprintf("keytag %d DS SUBMITTED->SEEN for zone %s", key.KeyTag, zoneName), nil
}

func handleKeyDSRetract(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	zoneName, err := requireOpt(cmd, "zone")
	if err != nil {
		return "", err
	}
	key, err := findMatchingKSK(ctx, tx, zoneName, cmd)
	if err != nil {
		return "", err
	}
	key.DSAtParent = domain.DSUnsubmitted
	if err := tx.UpdateKey(ctx, key); err != nil {
		return "", err
	}
	d.enqueuer.Enqueue("enforce", zoneName, now)
	return fmt.Sprintf("keytag %d DS RETRACTED->UNSUBMITTED for zone %s", key.KeyTag, zoneName), nil
}

func handleKeyDSGone(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	return handleKeyDSRetract(ctx, d, tx, cmd, now)
}

func handleKeyRollover(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	zoneName, err := requireOpt(cmd, "zone")
	if err != nil {
		return "", err
	}
	roleStr, err := requireOpt(cmd, "role")
	if err != nil {
		return "", err
	}
	role := domain.KeyRole(roleStr)
	if !role.Valid() {
		return "", syntaxErrorf("invalid role %q", roleStr)
	}

	zone, err := tx.GetZoneByName(ctx, zoneName)
	if err != nil {
		return "", err
	}
	zone.ManualRollNow[role] = true
	zone.NextChange = domain.NeverWake
	if err := tx.UpdateZone(ctx, zone); err != nil {
		return "", err
	}
	d.enqueuer.Enqueue("enforce", zoneName, now)
	return fmt.Sprintf("rollover forced for role %s on zone %s", role, zoneName), nil
}

func handlePolicyImport(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	name, err := requireOpt(cmd, "policy")
	if err != nil {
		return "", err
	}
	if err := domain.ValidatePolicyName(name); err != nil {
		return "", err
	}

	policy := &domain.Policy{Name: name, Keys: map[domain.KeyRole]domain.KeyRoleConfig{}}
	if err := tx.UpsertPolicy(ctx, policy); err != nil {
		return "", err
	}

	zones, err := tx.ListZones(ctx)
	if err != nil {
		return "", err
	}
	count := 0
	for _, z := range zones {
		if z.PolicyName == name {
			d.enqueuer.Enqueue("enforce", z.Name, now)
			count++
		}
	}
	return fmt.Sprintf("policy %s imported, enforce enqueued for %d zone(s)", name, count), nil
}

func handlePolicyResalt(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	name, err := requireOpt(cmd, "policy")
	if err != nil {
		return "", err
	}
	d.enqueuer.Enqueue("resalt", name, now)
	return fmt.Sprintf("resalt scheduled for policy %s", name), nil
}

func handleHelp(ctx context.Context, d *Dispatcher, tx ports.Tx, cmd Command, now int64) (string, error) {
	return `Zones:
  zone add --zone <name> --policy <name>
  zone delete --zone <name>

Keys:
  key ds-submit --zone <name> (--keytag <n> | --locator <id>)
  key ds-seen --zone <name> (--keytag <n> | --locator <id>)
  key ds-retract --zone <name> (--keytag <n> | --locator <id>)
  key ds-gone --zone <name> (--keytag <n> | --locator <id>)
  key rollover --zone <name> --role <KSK|ZSK|CSK>

Policies:
  policy import --policy <name>
  policy resalt --policy <name>
`, nil
}
