package domain

import (
	"encoding/hex"
	"fmt"

	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

const (
	SecretLengthHeads = 15
	SecretLengthTails = 16
)

// Contract is a taproot output committing to Tapscripts over the
// unspendable internal key.
type Contract struct {
	ServerKey  *btcec.PublicKey
	TapKey     *btcec.PublicKey
	Tapscripts []string
}

func (c Contract) Address(network arklib.Network) (string, error) {
	addr := &arklib.Address{
		HRP:        network.Addr,
		Signer:     c.ServerKey,
		VtxoTapKey: c.TapKey,
	}
	return addr.Encode()
}

func (c Contract) PkScript() ([]byte, error) {
	return script.P2TRScript(c.TapKey)
}

// SetupContract locks the pot of the setup tx.
type SetupContract struct {
	Contract
	// Reveal is spent by the final tx, it reveals the creator's secret.
	Reveal []byte
	// Aborted refunds the player if the creator never reveals.
	Aborted []byte
}

// FinalContract locks the pot of the final tx.
type FinalContract struct {
	Contract
	CreatorWin []byte
	PlayerWin  []byte
	// Aborted pays the creator if the player never reveals.
	Aborted []byte
}

// WinLeaf returns the leaf spendable by the winner.
func (c FinalContract) WinLeaf(winner Role) []byte {
	if winner == RolePlayer {
		return c.PlayerWin
	}
	return c.CreatorWin
}

// DefaultFundingTapscripts returns the single 2-of-2 party and server leaf
// of a plain funding vtxo.
func DefaultFundingTapscripts(partyPubkey, serverPubkey []byte) ([]string, error) {
	contract, err := FundingContract(partyPubkey, serverPubkey)
	if err != nil {
		return nil, err
	}
	return contract.Tapscripts, nil
}

// FundingContract is the contract of the vtxos a party funds games with, its
// address is where the party receives.
func FundingContract(partyPubkey, serverPubkey []byte) (*Contract, error) {
	party, err := parseKey("partyPubkey", partyPubkey)
	if err != nil {
		return nil, err
	}
	server, err := parseKey("serverPubkey", xOnly(serverPubkey))
	if err != nil {
		return nil, err
	}

	contract, _, err := newContract(server, &script.MultisigClosure{
		PubKeys: []*btcec.PublicKey{party, server},
		Type:    script.MultisigTypeChecksigAdd,
	})
	return contract, err
}

// ConditionScript consumes the creator secret a and the player secret b
// (top of the stack), checks both against their commitments and leaves true
// if the player wins.
func ConditionScript(creatorHash, playerHash []byte) ([]byte, error) {
	if err := validateHash("creator.hash", creatorHash); err != nil {
		return nil, err
	}
	if err := validateHash("player.hash", playerHash); err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder().
		AddOp(txscript.OP_2DUP).
		AddOp(txscript.OP_SHA256).AddData(playerHash).AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_SHA256).AddData(creatorHash).AddOp(txscript.OP_EQUALVERIFY)

	// b must be a valid secret, else the creator wins
	addValidLength(builder)
	builder.AddOp(txscript.OP_NOTIF).
		AddOp(txscript.OP_2DROP).
		AddOp(txscript.OP_0).
		AddOp(txscript.OP_ELSE).
		AddOp(txscript.OP_SWAP)

	// a must be a valid secret, else the player wins
	addValidLength(builder)
	builder.AddOp(txscript.OP_NOTIF).
		AddOp(txscript.OP_2DROP).
		AddOp(txscript.OP_1).
		AddOp(txscript.OP_ELSE).
		AddOp(txscript.OP_SIZE).AddOp(txscript.OP_SWAP).AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_SWAP).
		AddOp(txscript.OP_SIZE).AddOp(txscript.OP_SWAP).AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// addValidLength leaves the item on top and pushes whether its size is one
// of the two secret lengths.
func addValidLength(builder *txscript.ScriptBuilder) {
	builder.AddOp(txscript.OP_SIZE).
		AddOp(txscript.OP_DUP).
		AddInt64(SecretLengthTails).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_SWAP).
		AddInt64(SecretLengthHeads).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_BOOLOR)
}

func validSecretLength(secret []byte) bool {
	return len(secret) == SecretLengthHeads || len(secret) == SecretLengthTails
}

// Outcome mirrors the condition script and returns the winner. A missing
// secret is an invalid one.
func Outcome(creatorSecret, playerSecret []byte) Role {
	if !validSecretLength(playerSecret) {
		return RoleCreator
	}
	if !validSecretLength(creatorSecret) {
		return RolePlayer
	}
	if len(creatorSecret) == len(playerSecret) {
		return RolePlayer
	}
	return RoleCreator
}

// SetupContract returns the contract of the setup tx pot output:
// (player + creator + server + creator secret) or (player + server after setupExpiration).
func (g *Game) SetupContract() (*SetupContract, error) {
	if err := validateHash("creator.hash", g.Creator.Hash); err != nil {
		return nil, err
	}
	if g.SetupExpiration <= 0 {
		return nil, invalidf("setupExpiration", "missing")
	}
	keys, err := g.parseKeys()
	if err != nil {
		return nil, err
	}

	revealCondition, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(g.Creator.Hash).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, err
	}

	reveal := &script.ConditionMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{keys.player, keys.creator, keys.server},
		},
		Condition: revealCondition,
	}
	aborted := &script.CLTVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{keys.player, keys.server},
		},
		Locktime: arklib.AbsoluteLocktime(g.SetupExpiration),
	}

	contract, leaves, err := newContract(keys.server, reveal, aborted)
	if err != nil {
		return nil, err
	}
	return &SetupContract{
		Contract: *contract,
		Reveal:   leaves[0],
		Aborted:  leaves[1],
	}, nil
}

// FinalContract returns the contract of the final tx pot output:
// (creator + server + condition false) or (player + server + condition true)
// or (creator + server after finalExpiration).
func (g *Game) FinalContract() (*FinalContract, error) {
	if g.FinalExpiration <= 0 {
		return nil, invalidf("finalExpiration", "missing")
	}
	keys, err := g.parseKeys()
	if err != nil {
		return nil, err
	}
	condition, err := ConditionScript(g.Creator.Hash, g.Player.Hash)
	if err != nil {
		return nil, err
	}

	creatorWin := &script.ConditionMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{keys.creator, keys.server},
		},
		Condition: append(append([]byte{}, condition...), txscript.OP_NOT),
	}
	playerWin := &script.ConditionMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{keys.player, keys.server},
		},
		Condition: condition,
	}
	aborted := &script.CLTVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{keys.creator, keys.server},
		},
		Locktime: arklib.AbsoluteLocktime(g.FinalExpiration),
	}

	contract, leaves, err := newContract(keys.server, creatorWin, playerWin, aborted)
	if err != nil {
		return nil, err
	}
	return &FinalContract{
		Contract:   *contract,
		CreatorWin: leaves[0],
		PlayerWin:  leaves[1],
		Aborted:    leaves[2],
	}, nil
}

type gameKeys struct {
	creator *btcec.PublicKey
	player  *btcec.PublicKey
	server  *btcec.PublicKey
}

func (g *Game) parseKeys() (*gameKeys, error) {
	creator, err := parseKey("creator.pubkey", g.Creator.Pubkey)
	if err != nil {
		return nil, err
	}
	player, err := parseKey("player.pubkey", g.Player.Pubkey)
	if err != nil {
		return nil, err
	}
	server, err := parseKey("serverPubkey", g.ServerPubkey)
	if err != nil {
		return nil, err
	}
	return &gameKeys{creator, player, server}, nil
}

func parseKey(field string, key []byte) (*btcec.PublicKey, error) {
	if err := validateKey(field, key); err != nil {
		return nil, err
	}
	pubkey, err := schnorr.ParsePubKey(key)
	if err != nil {
		return nil, invalid(field, err)
	}
	return pubkey, nil
}

func newContract(
	server *btcec.PublicKey, closures ...script.Closure,
) (*Contract, [][]byte, error) {
	leaves := make([][]byte, 0, len(closures))
	tapscripts := make([]string, 0, len(closures))
	for _, closure := range closures {
		leaf, err := closure.Script()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build leaf: %w", err)
		}
		leaves = append(leaves, leaf)
		tapscripts = append(tapscripts, hex.EncodeToString(leaf))
	}

	tapKey, _ := script.NewTaprootTree(leaves)
	return &Contract{
		ServerKey:  server,
		TapKey:     tapKey,
		Tapscripts: tapscripts,
	}, leaves, nil
}
