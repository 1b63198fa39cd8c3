// Package catalog stores the cluster and table configuration records of
// the metadata store.
package catalog

import (
	"context"
	"time"

	"go-metastore/pkg/metadata"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/viant/bintly"
)

const (
	clusterKey     = "cluster"
	tableConfigDir = "table_config/"
)

var (
	ErrNoCluster     = errors.New("cluster record is missing")
	ErrInvalidConfig = errors.New("invalid table config")
)

// Cluster identifies the cluster the store belongs to. It is written once,
// when the store is created.
type Cluster struct {
	ID      uuid.UUID
	Server  string
	Created time.Time
}

func (c *Cluster) EncodeBinary(stream *bintly.Writer) error {
	stream.String(c.ID.String())
	stream.String(c.Server)
	stream.Time(c.Created)
	return nil
}

func (c *Cluster) DecodeBinary(stream *bintly.Reader) error {
	var id string
	stream.String(&id)
	stream.String(&c.Server)
	stream.Time(&c.Created)

	parsed, err := uuid.Parse(id)
	if err != nil {
		return errors.Wrap(err, "cluster id")
	}
	c.ID = parsed
	return nil
}

// Initializer returns the function creating a store's catalog: a cluster
// record for server and no tables.
func Initializer(server string) metadata.Initializer {
	return func(_ context.Context, txn *metadata.WriteTxn) error {
		return txn.WriteRecord(clusterKey, &Cluster{
			ID:      uuid.New(),
			Server:  server,
			Created: time.Now().UTC(),
		})
	}
}

func GetCluster(txn *metadata.ReadTxn) (*Cluster, error) {
	c := &Cluster{}
	found, err := txn.ReadRecord(clusterKey, c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoCluster
	}
	return c, nil
}

type TableConfig struct {
	ID         uuid.UUID
	Database   string
	Name       string
	PrimaryKey string
	Shards     int
}

func (t *TableConfig) Validate() error {
	switch {
		case t.ID == uuid.Nil:   return errors.Wrap(ErrInvalidConfig, "missing id")
		case t.Name == "":       return errors.Wrap(ErrInvalidConfig, "missing name")
		case t.PrimaryKey == "": return errors.Wrapf(ErrInvalidConfig, "table '%s' has no primary key", t.Name)
		case t.Shards < 1:       return errors.Wrapf(ErrInvalidConfig, "table '%s' has %d shards", t.Name, t.Shards)
	}
	return nil
}

func (t *TableConfig) EncodeBinary(stream *bintly.Writer) error {
	stream.String(t.ID.String())
	stream.String(t.Database)
	stream.String(t.Name)
	stream.String(t.PrimaryKey)
	stream.Int(t.Shards)
	return nil
}

func (t *TableConfig) DecodeBinary(stream *bintly.Reader) error {
	var id string
	stream.String(&id)
	stream.String(&t.Database)
	stream.String(&t.Name)
	stream.String(&t.PrimaryKey)
	stream.Int(&t.Shards)

	parsed, err := uuid.Parse(id)
	if err != nil {
		return errors.Wrap(err, "table id")
	}
	t.ID = parsed
	return nil
}

func tableKey(id uuid.UUID) string {
	return tableConfigDir + id.String()
}

// PutTable stages cfg, replacing any config with the same id.
func PutTable(txn *metadata.WriteTxn, cfg *TableConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return txn.WriteRecord(tableKey(cfg.ID), cfg)
}

func DeleteTable(txn *metadata.WriteTxn, id uuid.UUID) error {
	return txn.DeleteBin(tableKey(id))
}

func GetTable(txn *metadata.ReadTxn, id uuid.UUID) (*TableConfig, bool, error) {
	cfg := &TableConfig{}
	found, err := txn.ReadRecord(tableKey(id), cfg)
	if err != nil || !found {
		return nil, false, err
	}
	return cfg, true, nil
}

// ListTables returns every committed table config, in no particular order.
func ListTables(ctx context.Context, txn *metadata.ReadTxn) ([]*TableConfig, error) {
	var tables []*TableConfig
	err := metadata.ReadManyRecords(ctx, txn, tableConfigDir,
		func() *TableConfig { return &TableConfig{} },
		func(suffix string, cfg *TableConfig) error {
			if suffix != cfg.ID.String() {
				return errors.Errorf("table config %s stored under '%s'", cfg.ID, suffix)
			}
			tables = append(tables, cfg)
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return tables, nil
}
