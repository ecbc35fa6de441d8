// Package fctx holds the explicit, process-wide Context that is threaded
// through every operation instead of exposing the datadir/network/wallet
// name ambiently. See spec.md §9 ("Global state").
package fctx

import (
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/firma-toolchain/firma/internal/pathresolver"
)

// Context carries the three pieces of process-wide state every operation
// in this toolchain needs: where artifacts live, which Bitcoin network
// they belong to, and (online-side only) which wallet is in play.
type Context struct {
	Datadir    string
	Network    string
	WalletName string
	Log        hclog.Logger
}

// New builds a Context with a logger at the given level. level is one of
// the hclog level names ("trace", "debug", "info", "warn", "error");
// unrecognized or empty values default to Warn so stdout stays
// machine-readable JSON per spec.md §6.
func New(datadir, network, walletName, level string) *Context {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Warn
	}
	return &Context{
		Datadir:    datadir,
		Network:    network,
		WalletName: walletName,
		Log: hclog.New(&hclog.LoggerOptions{
			Name:       "firma",
			Level:      lvl,
			Output:     os.Stderr,
			JSONFormat: false,
		}),
	}
}

// MasterKeyDir resolves the directory holding a named key's artifacts.
func (c *Context) MasterKeyDir(keyName string) (string, error) {
	return pathresolver.KindDir(c.Datadir, c.Network, pathresolver.MasterKey, keyName)
}

// WalletDir resolves the directory holding the active wallet's artifacts.
func (c *Context) WalletDir() (string, error) {
	return pathresolver.KindDir(c.Datadir, c.Network, pathresolver.Wallet, c.WalletName)
}

// PSBTDir resolves the directory PSBT records are written under.
func (c *Context) PSBTDir() (string, error) {
	return pathresolver.KindDir(c.Datadir, c.Network, pathresolver.PSBT, "")
}

// PrivateKeyPath resolves <datadir>/<network>/MasterKey/<keyName>/PRIVATE.json.
func (c *Context) PrivateKeyPath(keyName string) (string, error) {
	return pathresolver.File(c.Datadir, c.Network, pathresolver.MasterKey, keyName, "PRIVATE.json")
}

// PublicKeyPath resolves <datadir>/<network>/MasterKey/<keyName>/public.json.
func (c *Context) PublicKeyPath(keyName string) (string, error) {
	return pathresolver.File(c.Datadir, c.Network, pathresolver.MasterKey, keyName, "public.json")
}

// WalletDescriptorPath resolves the active wallet's descriptor.json.
func (c *Context) WalletDescriptorPath() (string, error) {
	return pathresolver.File(c.Datadir, c.Network, pathresolver.Wallet, c.WalletName, "descriptor.json")
}

// WalletIndexesPath resolves the active wallet's indexes.json.
func (c *Context) WalletIndexesPath() (string, error) {
	return pathresolver.File(c.Datadir, c.Network, pathresolver.Wallet, c.WalletName, "indexes.json")
}

// PSBTPath resolves the path for a PSBT record identified by id.
func (c *Context) PSBTPath(id string) (string, error) {
	return pathresolver.File(c.Datadir, c.Network, pathresolver.PSBT, "", id+".json")
}
