package metadata

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Catalogue engine names.
const (
	EnginePebble = "pebble"
	EngineBadger = "badger"
	EngineSQLite = "sqlite"
	EngineBolt   = "bolt"
	EngineMemory = "memory"
)

// Options selects and configures a catalogue engine
type Options struct {
	Engine     string
	DataDir    string
	SyncWrites bool
	Logger     *logrus.Logger
}

// OpenStore opens the raw key-value engine named by opts.Engine.
func OpenStore(opts Options) (RawKVStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	switch opts.Engine {
	case EnginePebble, "":
		return NewPebbleStore(PebbleOptions{DataDir: opts.DataDir, Logger: opts.Logger})
	case EngineBadger:
		return NewBadgerStore(BadgerOptions{DataDir: opts.DataDir, SyncWrites: opts.SyncWrites, Logger: opts.Logger})
	case EngineSQLite:
		return NewSQLiteStore(opts.DataDir, opts.Logger)
	case EngineBolt:
		return NewBoltStore(opts.DataDir, opts.Logger)
	case EngineMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported catalogue engine: %s", opts.Engine)
	}
}
