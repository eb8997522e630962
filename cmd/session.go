// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"context"
	"fmt"

	"github.com/Benchsafe/dielectric/pkg/seqstore"
	"github.com/Benchsafe/dielectric/pkg/session"
	"github.com/Benchsafe/dielectric/pkg/v7x"
)

// loadSession reads the working sequence mirror for this bench.
func loadSession() (*session.State, error) {
	return session.Load(cfg.SessionPath)
}

// saveSession persists the working sequence mirror after a mutation.
func saveSession(steps []v7x.StepConfig, id v7x.SequenceIdentity) error {
	st := &session.State{Steps: steps}
	if id.ID != "" || id.Name != "" {
		st.Identity = &id
	}
	return session.Save(cfg.SessionPath, st)
}

// sessionIdentity unpacks the optional identity of a session state.
func sessionIdentity(st *session.State) v7x.SequenceIdentity {
	if st.Identity == nil {
		return v7x.SequenceIdentity{}
	}
	return *st.Identity
}

// openStore connects to the configured results database and makes sure
// the schema exists.
func openStore(ctx context.Context) (*seqstore.Store, error) {
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("no database configured (set database_dsn in the config file or DIELECTRIC_DSN)")
	}
	store, err := seqstore.Open(cfg.DatabaseDSN, log)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
