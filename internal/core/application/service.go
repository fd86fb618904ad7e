package application

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotAParty        = errors.New("not a party of the game")
	ErrNothingToAbort   = errors.New("no pot to abort")
	ErrGameDeleted      = errors.New("game deleted")
	ErrUnexpectedSender = errors.New("envelope not sent by the expected party")
	ErrUnknownSender    = errors.New("sender of the event not known yet")
)

// defaultEventExpiration is used for envelopes of games whose final
// expiration is unknown.
const defaultEventExpiration = 24 * time.Hour

type service struct {
	// services
	client      ports.ArkClient
	builder     ports.TxBuilder
	repoManager ports.RepoManager
	liveStore   ports.LiveStore
	codec       ports.EnvelopeCodec
	resolver    *Resolver

	// config
	network      arklib.Network
	serverPubkey []byte
	setupTimeout time.Duration
	finalTimeout time.Duration

	key    *btcec.PrivateKey
	pubkey []byte

	// serializes load-apply-save sequences on the event store
	lock sync.Mutex
}

func NewService(
	key *btcec.PrivateKey, client ports.ArkClient, builder ports.TxBuilder,
	repoManager ports.RepoManager, liveStore ports.LiveStore, codec ports.EnvelopeCodec,
	setupTimeout, finalTimeout time.Duration,
) (Service, error) {
	if key == nil {
		return nil, fmt.Errorf("missing private key")
	}
	if setupTimeout <= 0 || finalTimeout <= setupTimeout {
		return nil, fmt.Errorf(
			"invalid timeouts: final timeout (%s) must be greater than setup timeout (%s)",
			finalTimeout, setupTimeout,
		)
	}

	info, err := client.GetInfo(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server info: %s", err)
	}

	return &service{
		client:       client,
		builder:      builder,
		repoManager:  repoManager,
		liveStore:    liveStore,
		codec:        codec,
		resolver:     NewResolver(client, builder, info.Network, key),
		network:      info.Network,
		serverPubkey: info.Pubkey,
		setupTimeout: setupTimeout,
		finalTimeout: finalTimeout,
		key:          key,
		pubkey:       schnorr.SerializePubKey(key.PubKey()),
	}, nil
}

func (s *service) Close() {
	s.repoManager.Close()
}

func (s *service) GetInfo(_ context.Context) (*ServiceInfo, error) {
	address, err := s.fundingAddress()
	if err != nil {
		return nil, err
	}
	return &ServiceInfo{
		Pubkey:       hex.EncodeToString(s.pubkey),
		ServerPubkey: hex.EncodeToString(s.serverPubkey),
		Network:      s.network.Name,
		Address:      address,
	}, nil
}

func (s *service) GetBalance(ctx context.Context) (*Balance, error) {
	vtxos, err := s.ListVtxos(ctx)
	if err != nil {
		return nil, err
	}
	balance := &Balance{Vtxos: len(vtxos)}
	for _, v := range vtxos {
		balance.Amount += v.Amount
	}
	return balance, nil
}

func (s *service) ListVtxos(ctx context.Context) ([]domain.Vtxo, error) {
	address, err := s.fundingAddress()
	if err != nil {
		return nil, err
	}
	return s.client.ListVtxos(ctx, address)
}

func (s *service) CreateGame(
	ctx context.Context, betAmount uint64, side Side,
) (*GameUpdate, error) {
	if betAmount == 0 {
		return nil, fmt.Errorf("bet amount must be greater than zero")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	inputs, err := s.selectFunding(ctx, domain.RoleCreator, betAmount)
	if err != nil {
		return nil, err
	}
	changeAddress, err := s.fundingAddress()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	game := domain.NewGame()
	event, err := game.Create(
		s.pubkey, inputs, changeAddress, betAmount, s.serverPubkey,
		now.Add(s.setupTimeout).Unix(), now.Add(s.finalTimeout).Unix(),
	)
	if err != nil {
		return nil, err
	}

	secret, err := newSecret(side)
	if err != nil {
		return nil, err
	}
	if err := s.repoManager.Secrets().AddSecret(ctx, game.Id, secret); err != nil {
		return nil, fmt.Errorf("failed to store secret: %s", err)
	}

	// the offer is public
	update, err := s.commit(ctx, game, event, nil)
	if err != nil {
		return nil, err
	}
	log.Infof("created game %s with bet %d sats", game.Id, betAmount)
	return update, nil
}

func (s *service) JoinGame(ctx context.Context, gameId string, side Side) (*GameUpdate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGame(ctx, gameId)
	if err != nil {
		return nil, err
	}

	inputs, err := s.selectFunding(ctx, domain.RolePlayer, game.BetAmount)
	if err != nil {
		return nil, err
	}
	changeAddress, err := s.fundingAddress()
	if err != nil {
		return nil, err
	}

	secret, err := newSecret(side)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(secret)

	event, err := game.Join(s.pubkey, inputs, changeAddress, hash[:])
	if err != nil {
		return nil, err
	}
	if err := s.repoManager.Secrets().AddSecret(ctx, game.Id, secret); err != nil {
		return nil, fmt.Errorf("failed to store secret: %s", err)
	}

	update, err := s.commit(ctx, game, event, game.Creator.Pubkey)
	if err != nil {
		return nil, err
	}
	log.Infof("joined game %s", game.Id)
	return update, nil
}

func (s *service) StartSetup(ctx context.Context, gameId string) (*GameUpdate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGameAs(ctx, gameId, domain.RoleCreator)
	if err != nil {
		return nil, err
	}
	secret, err := s.repoManager.Secrets().GetSecret(ctx, gameId)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	hash := sha256.Sum256(secret)

	// the final tx commits to the creator hash that is not part of the game yet
	withHash := *game
	withHash.Creator.Hash = hash[:]
	finalTx, err := s.builder.BuildFinalTx(&withHash)
	if err != nil {
		return nil, fmt.Errorf("failed to build final tx: %w", err)
	}
	sigs, err := s.builder.SignTx(finalTx, s.key, []int{0})
	if err != nil {
		return nil, fmt.Errorf("failed to sign final tx: %w", err)
	}

	event, err := game.StartSetup(hash[:], sigs[0])
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, game, event, game.Player.Pubkey)
}

func (s *service) FinalizeSetup(ctx context.Context, gameId string) (*GameUpdate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGameAs(ctx, gameId, domain.RolePlayer)
	if err != nil {
		return nil, err
	}
	if game.Status != domain.GameStatusSetupStarted {
		return nil, &domain.ValidationError{
			Field: "status", Err: fmt.Errorf("%w to finalize setup", domain.ErrInvalidStage),
		}
	}

	txs, err := s.builder.BuildGameTxs(game)
	if err != nil {
		return nil, err
	}
	// the creator must have signed the final tx before we sign our funds away
	if _, err := s.builder.VerifyTapscriptSigs(txs.FinalTx); err != nil {
		return nil, fmt.Errorf("invalid final tx: %w", err)
	}

	finalSigs, err := s.builder.SignTx(txs.FinalTx, s.key, []int{0})
	if err != nil {
		return nil, fmt.Errorf("failed to sign final tx: %w", err)
	}
	setupSigs, err := s.builder.SignTx(
		txs.SetupTx, s.key, inputRange(len(game.Creator.Vtxos), len(game.Player.Vtxos)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sign setup tx: %w", err)
	}

	event, err := game.FinalizeSetup(finalSigs[0], setupSigs)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, game, event, game.Creator.Pubkey)
}

func (s *service) Finalize(ctx context.Context, gameId string) (*GameUpdate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGameAs(ctx, gameId, domain.RoleCreator)
	if err != nil {
		return nil, err
	}
	if game.Status != domain.GameStatusSetupFinalized {
		return nil, &domain.ValidationError{
			Field: "status", Err: fmt.Errorf("%w to finalize game", domain.ErrInvalidStage),
		}
	}
	secret, err := s.repoManager.Secrets().GetSecret(ctx, gameId)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	txs, err := s.builder.BuildGameTxs(game)
	if err != nil {
		return nil, err
	}
	for _, ptx := range []*psbt.Packet{txs.SetupTx, txs.FinalTx} {
		if _, err := s.builder.VerifyTapscriptSigs(ptx); err != nil {
			return nil, fmt.Errorf("invalid game tx: %w", err)
		}
	}

	setupSigs, err := s.builder.SignTx(txs.SetupTx, s.key, inputRange(0, len(game.Creator.Vtxos)))
	if err != nil {
		return nil, fmt.Errorf("failed to sign setup tx: %w", err)
	}
	event, err := game.Finalize(setupSigs)
	if err != nil {
		return nil, err
	}

	if err := txutils.SetConditionWitness(
		0, txs.FinalTx, txutils.ConditionWitness{secret},
	); err != nil {
		return nil, err
	}
	setupTxid, err := s.submit(ctx, txs.SetupTx)
	if err != nil {
		// a previous attempt got the setup tx accepted but not the final one
		var ledgerErr *ports.LedgerError
		if !errors.As(err, &ledgerErr) || !isAlreadySpent(ledgerErr) {
			return nil, fmt.Errorf("failed to submit setup tx: %w", err)
		}
		setupTxid = s.builder.GetTxid(txs.SetupTx)
		log.Infof("setup tx %s of game %s already submitted", setupTxid, game.Id)
	}
	finalTxid, err := s.submit(ctx, txs.FinalTx)
	if err != nil {
		return nil, fmt.Errorf("failed to submit final tx: %w", err)
	}
	log.Infof("game %s funded: setup tx %s, final tx %s", game.Id, setupTxid, finalTxid)

	return s.commit(ctx, game, event, game.Player.Pubkey)
}

func (s *service) RevealSecret(ctx context.Context, gameId string) (*GameUpdate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGameAs(ctx, gameId, domain.RolePlayer)
	if err != nil {
		return nil, err
	}
	secret, err := s.repoManager.Secrets().GetSecret(ctx, gameId)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	event, err := game.Resolve(secret)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, game, event, game.Creator.Pubkey)
}

func (s *service) Resolve(ctx context.Context, gameId string) (*Settlement, error) {
	game, err := s.GetGame(ctx, gameId)
	if err != nil {
		return nil, err
	}
	role, ok := game.RoleOf(s.pubkey)
	if !ok {
		return nil, ErrNotAParty
	}

	var playerSecret []byte
	if role == domain.RolePlayer {
		if playerSecret, err = s.repoManager.Secrets().GetSecret(ctx, gameId); err != nil {
			return nil, fmt.Errorf("failed to get secret: %w", err)
		}
	}

	settlement, err := s.resolver.Resolve(ctx, game, playerSecret)
	if err != nil {
		return nil, err
	}
	log.Infof("settlement of game %s: %s", gameId, settlement.Status)
	return settlement, nil
}

// Abort spends the pot through the timelocked leaf of the party: the creator
// claims the final output, the player reclaims the setup one.
func (s *service) Abort(ctx context.Context, gameId string) (string, error) {
	game, err := s.GetGame(ctx, gameId)
	if err != nil {
		return "", err
	}
	role, ok := game.RoleOf(s.pubkey)
	if !ok {
		return "", ErrNotAParty
	}

	var contract *domain.Contract
	if role == domain.RoleCreator {
		final, err := game.FinalContract()
		if err != nil {
			return "", err
		}
		contract = &final.Contract
	} else {
		setup, err := game.SetupContract()
		if err != nil {
			return "", err
		}
		contract = &setup.Contract
	}
	address, err := contract.Address(s.network)
	if err != nil {
		return "", err
	}

	vtxos, err := s.client.ListVtxos(ctx, address)
	if err != nil {
		return "", fmt.Errorf("failed to list vtxos of %s: %w", address, err)
	}
	if len(vtxos) == 0 {
		return "", ErrNothingToAbort
	}

	ptx, err := s.builder.BuildAbortTx(game, vtxos[0], role)
	if err != nil {
		return "", err
	}
	if _, err := s.builder.SignTx(ptx, s.key, []int{0}); err != nil {
		return "", fmt.Errorf("failed to sign abort tx: %w", err)
	}
	txid, err := s.submit(ctx, ptx)
	if err != nil {
		return "", fmt.Errorf("failed to submit abort tx: %w", err)
	}
	log.Infof("aborted game %s with tx %s", gameId, txid)
	return txid, nil
}

// DeleteGame withdraws a public offer. Local events are dropped only if
// nobody joined yet.
func (s *service) DeleteGame(
	ctx context.Context, gameId, envelopeId string,
) (*GameUpdate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGameAs(ctx, gameId, domain.RoleCreator)
	if err != nil {
		return nil, err
	}

	envelope, err := s.codec.SealDelete(envelopeId, gameId)
	if err != nil {
		return nil, err
	}
	s.liveStore.Envelopes().Add(envelope.Id)

	if game.Status == domain.GameStatusCreated {
		if err := s.dropGame(ctx, gameId); err != nil {
			return nil, err
		}
	}
	return &GameUpdate{Game: game, Envelope: envelope}, nil
}

func (s *service) HandleEnvelope(ctx context.Context, data []byte) (*domain.Game, error) {
	envelope, err := s.codec.Open(data)
	if err != nil {
		return nil, err
	}
	if s.liveStore.Envelopes().Includes(envelope.Id) {
		log.Debugf("envelope %s already handled", envelope.Id)
		return nil, nil
	}

	game, err := s.handleEnvelope(ctx, envelope)
	if err != nil {
		return nil, err
	}
	// a failed envelope stays unseen so that its redelivery is handled
	s.liveStore.Envelopes().Add(envelope.Id)
	return game, nil
}

func (s *service) handleEnvelope(
	ctx context.Context, envelope *ports.Envelope,
) (*domain.Game, error) {
	if envelope.Event == nil {
		return nil, s.handleDelete(ctx, envelope)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGame(ctx, envelope.Event.GetGameId())
	if errors.Is(err, ErrGameDeleted) {
		log.Debugf("ignoring envelope %s of deleted game", envelope.Id)
		return nil, nil
	}
	if err != nil && !errors.Is(err, domain.ErrGameNotFound) {
		return nil, err
	}
	if game == nil {
		game = domain.NewGame()
	}
	if err := checkSender(game, envelope); err != nil {
		return nil, err
	}
	return s.handleEvent(ctx, game, envelope.Event)
}

func (s *service) HandleEvent(ctx context.Context, event domain.Event) (*domain.Game, error) {
	if event == nil {
		return nil, &domain.ValidationError{Field: "event", Err: fmt.Errorf("missing")}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	game, err := s.loadGame(ctx, event.GetGameId())
	if errors.Is(err, ErrGameDeleted) {
		return nil, nil
	}
	if err != nil && !errors.Is(err, domain.ErrGameNotFound) {
		return nil, err
	}
	if game == nil {
		game = domain.NewGame()
	}
	return s.handleEvent(ctx, game, event)
}

func (s *service) GetGame(ctx context.Context, gameId string) (*domain.Game, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.loadGame(ctx, gameId)
}

func (s *service) ListGames(ctx context.Context) ([]*domain.Game, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids, err := s.repoManager.Events().ListGameIds(ctx)
	if err != nil {
		return nil, err
	}
	games := make([]*domain.Game, 0, len(ids))
	for _, id := range ids {
		if s.liveStore.DeletedGames().Includes(id) {
			continue
		}
		game, err := s.loadGame(ctx, id)
		if err != nil {
			log.WithError(err).Warnf("skipping game %s", id)
			continue
		}
		games = append(games, game)
	}
	return games, nil
}

func (s *service) handleEvent(
	ctx context.Context, game *domain.Game, event domain.Event,
) (*domain.Game, error) {
	gameId := event.GetGameId()
	if s.liveStore.DeletedGames().Includes(gameId) {
		log.Debugf("ignoring %s event of deleted game %s", event.GetType(), gameId)
		return nil, nil
	}

	events, err := s.repoManager.Events().Load(ctx, gameId)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		// first writer wins, a later event of the same type is ignored
		if e.GetType() == event.GetType() {
			log.Debugf("%s event of game %s already stored", event.GetType(), gameId)
			return game, nil
		}
	}

	if err := game.Apply(event); err != nil {
		return nil, err
	}
	if err := s.repoManager.Events().Save(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to save event: %w", err)
	}
	log.Debugf("game %s: applied %s event, status %s", gameId, event.GetType(), game.Status)
	return game, nil
}

// handleDelete drops a game offer that nobody joined yet.
func (s *service) handleDelete(ctx context.Context, envelope *ports.Envelope) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	gameId := envelope.DeleteGameId
	events, err := s.repoManager.Events().Load(ctx, gameId)
	if err != nil {
		return err
	}
	if len(events) != 1 {
		return nil
	}
	created, ok := events[0].(domain.GameCreated)
	if !ok || !bytes.Equal(created.CreatorPubkey, envelope.Sender) {
		return ErrUnexpectedSender
	}
	log.Infof("game %s deleted by its creator", gameId)
	return s.dropGame(ctx, gameId)
}

func (s *service) dropGame(ctx context.Context, gameId string) error {
	if err := s.repoManager.Events().Delete(ctx, gameId); err != nil {
		return err
	}
	if err := s.repoManager.Secrets().DeleteSecret(ctx, gameId); err != nil &&
		!errors.Is(err, domain.ErrSecretNotFound) {
		return err
	}
	s.liveStore.DeletedGames().Add(gameId)
	return nil
}

// commit persists an event raised by a local command and seals it for the
// recipient, in clear if nil.
func (s *service) commit(
	ctx context.Context, game *domain.Game, event domain.Event, recipient []byte,
) (*GameUpdate, error) {
	if err := s.repoManager.Events().Save(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to save event: %w", err)
	}

	expiration := game.FinalExpiration
	if expiration <= 0 {
		expiration = time.Now().Add(defaultEventExpiration).Unix()
	}
	envelope, err := s.codec.Seal(event, recipient, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to seal %s event: %w", event.GetType(), err)
	}
	// our own envelope coming back from the transport is a duplicate
	s.liveStore.Envelopes().Add(envelope.Id)

	return &GameUpdate{Game: game, Envelope: envelope}, nil
}

func (s *service) loadGame(ctx context.Context, gameId string) (*domain.Game, error) {
	if s.liveStore.DeletedGames().Includes(gameId) {
		return nil, ErrGameDeleted
	}
	events, err := s.repoManager.Events().Load(ctx, gameId)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrGameNotFound
	}
	return domain.NewGameFromEvents(events)
}

func (s *service) loadGameAs(
	ctx context.Context, gameId string, role domain.Role,
) (*domain.Game, error) {
	game, err := s.loadGame(ctx, gameId)
	if err != nil {
		return nil, err
	}
	if r, ok := game.RoleOf(s.pubkey); !ok || r != role {
		return nil, fmt.Errorf("%w as %s", ErrNotAParty, role)
	}
	return game, nil
}

// selectFunding picks the vtxos of our funding address covering the amount.
func (s *service) selectFunding(
	ctx context.Context, role domain.Role, amount uint64,
) ([]domain.VtxoInput, error) {
	tapscripts, err := domain.DefaultFundingTapscripts(s.pubkey, s.serverPubkey)
	if err != nil {
		return nil, err
	}
	leaf := tapscripts[0]

	vtxos, err := s.ListVtxos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vtxos: %w", err)
	}
	spendable := make([]domain.Vtxo, 0, len(vtxos))
	funded := uint64(0)
	for _, v := range vtxos {
		if !containsLeaf(v.Tapscripts, leaf) {
			log.Warnf("skipping vtxo %s: unknown tapscripts", v.Outpoint)
			continue
		}
		spendable = append(spendable, v)
		funded += v.Amount
	}

	selection := SelectCoins(spendable, amount)
	if selection.Insufficient {
		return nil, &domain.InsufficientFundsError{
			Party: role, Funded: funded, Missing: amount - funded,
		}
	}

	inputs := make([]domain.VtxoInput, 0, len(selection.Inputs))
	for _, v := range selection.Inputs {
		inputs = append(inputs, domain.VtxoInput{Vtxo: v, Leaf: leaf})
	}
	return inputs, nil
}

func (s *service) fundingAddress() (string, error) {
	contract, err := domain.FundingContract(s.pubkey, s.serverPubkey)
	if err != nil {
		return "", err
	}
	return contract.Address(s.network)
}

func (s *service) submit(ctx context.Context, ptx *psbt.Packet) (string, error) {
	b64, err := ptx.B64Encode()
	if err != nil {
		return "", err
	}
	return s.client.SubmitRedeemTx(ctx, b64)
}

// checkSender makes sure the event comes from the party entitled to raise it.
func checkSender(game *domain.Game, envelope *ports.Envelope) error {
	var expected []byte
	switch e := envelope.Event.(type) {
	case domain.GameCreated:
		expected = e.CreatorPubkey
	case domain.GameJoined:
		expected = e.PlayerPubkey
	case domain.SetupStarted, domain.GameFinalized:
		expected = game.Creator.Pubkey
	case domain.SetupFinalized, domain.GameResolved:
		expected = game.Player.Pubkey
	}
	// the event is refused until the one naming its sender is stored
	if len(expected) == 0 {
		return fmt.Errorf("%w: %s event of game %s", ErrUnknownSender,
			envelope.Event.GetType(), envelope.Event.GetGameId())
	}
	if !bytes.Equal(expected, envelope.Sender) {
		return fmt.Errorf(
			"%w: %s event from %x", ErrUnexpectedSender, envelope.Event.GetType(), envelope.Sender,
		)
	}
	return nil
}

func newSecret(side Side) ([]byte, error) {
	secret := make([]byte, side.secretLength())
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %s", err)
	}
	return secret, nil
}

func containsLeaf(tapscripts []string, leaf string) bool {
	for _, t := range tapscripts {
		if t == leaf {
			return true
		}
	}
	return false
}

func inputRange(start, count int) []int {
	indexes := make([]int, 0, count)
	for i := start; i < start+count; i++ {
		indexes = append(indexes, i)
	}
	return indexes
}
