package processor

import (
	"context"

	"ch-ferry/database"
	"ch-ferry/schema"
)

// Provisioner recreates the sink table from a translated definition.
type Provisioner struct {
	target database.TargetDB
}

func NewProvisioner(target database.TargetDB) *Provisioner {
	return &Provisioner{target: target}
}

// Provision drops and recreates def.Name. Rejections come back as *ProvisionError.
func (p *Provisioner) Provision(ctx context.Context, def schema.TableDefinition) error {
	if err := p.target.CreateTable(ctx, def); err != nil {
		return &ProvisionError{Table: def.Name, Err: err}
	}
	return nil
}
