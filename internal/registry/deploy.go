package registry

import (
	"fmt"

	"github.com/alanyoungcy/bazaar/internal/auction"
	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/raffle"
	"github.com/alanyoungcy/bazaar/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// DeployOptions configures a fresh protocol deployment.
type DeployOptions struct {
	// Salt namespaces the component addresses so several deployments can
	// share one chain.
	Salt         string
	Owner        common.Address
	Arbiter      common.Address
	FeeRecipient common.Address
	FeeBps       uint16
}

// Deployment is one registry wired to its own vault and sale modules.
type Deployment struct {
	Registry *Registry
	Vault    *vault.Vault
	Auctions *auction.Module
	Raffles  *raffle.Module
}

// Deploy builds the four components with the registry as controller of the
// other three.
func Deploy(opts DeployOptions) (*Deployment, error) {
	salt := opts.Salt
	if salt == "" {
		salt = "bazaar"
	}
	regAddr := chain.NewAddress(salt + "/registry")

	v, err := vault.New(chain.NewAddress(salt+"/vault"), regAddr)
	if err != nil {
		return nil, fmt.Errorf("registry: deploy vault: %w", err)
	}
	am, err := auction.New(chain.NewAddress(salt+"/auction"), regAddr)
	if err != nil {
		return nil, fmt.Errorf("registry: deploy auction module: %w", err)
	}
	rm, err := raffle.New(chain.NewAddress(salt+"/raffle"), regAddr)
	if err != nil {
		return nil, fmt.Errorf("registry: deploy raffle module: %w", err)
	}
	reg, err := New(Config{
		Address:      regAddr,
		Owner:        opts.Owner,
		Arbiter:      opts.Arbiter,
		FeeRecipient: opts.FeeRecipient,
		FeeBps:       opts.FeeBps,
		Vault:        v,
		Auctions:     am,
		Raffles:      rm,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: deploy: %w", err)
	}
	return &Deployment{Registry: reg, Vault: v, Auctions: am, Raffles: rm}, nil
}
