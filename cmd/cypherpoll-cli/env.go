package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	apiclient "github.com/vocdoni/cypherpoll/api/client"
	"github.com/vocdoni/cypherpoll/client"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/storage"
)

// cliEnv holds the store and clients of one command run.
type cliEnv struct {
	store  *storage.Store
	api    *apiclient.HTTPclient
	client *client.Client
}

func openEnv(c *cli.Context, newClient func(*cliEnv) (*client.Client, error)) (*cliEnv, error) {
	store, err := storage.Open(c.String("store"))
	if err != nil {
		return nil, err
	}
	env := &cliEnv{store: store}
	if env.api, err = apiclient.New(c.Context, c.String("server")); err != nil {
		env.close()
		return nil, fmt.Errorf("could not reach %s: %w", c.String("server"), err)
	}
	if newClient == nil {
		newClient = func(env *cliEnv) (*client.Client, error) {
			return client.New(client.Config{Store: env.store, API: env.api})
		}
	}
	if env.client, err = newClient(env); err != nil {
		env.close()
		return nil, err
	}
	return env, nil
}

func (env *cliEnv) signer(identity string) (*ethereum.Signer, error) {
	key, err := env.store.Key(identity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", errNoKey, identity)
	}
	if err != nil {
		return nil, err
	}
	return ethereum.NewSignerFromHex(key.Hex())
}

func (env *cliEnv) close() {
	_ = env.store.Close()
}
