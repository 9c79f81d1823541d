// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package cluster

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/log"
)

const (
	membershipPrefix = "stratos/searchers/"
	sessionTTL       = 10 // seconds
)

// StaticNodes is a fixed NodeLister for tests and single-node setups.
type StaticNodes struct {
	mu    sync.RWMutex
	nodes []string
	self  string
}

// NewStaticNodes lists the given nodes with self as this node's identity.
func NewStaticNodes(self string, nodes ...string) *StaticNodes {
	return &StaticNodes{nodes: nodes, self: self}
}

func (s *StaticNodes) ListNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.nodes...)
}

func (s *StaticNodes) ThisNode() string {
	return s.self
}

// SetNodes replaces the node list, simulating a membership change.
func (s *StaticNodes) SetNodes(nodes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes[:0:0], nodes...)
}

// ReadOrCreateHostKey loads the key that makes a node unique, generating
// and persisting one on first boot so it survives restarts.
func ReadOrCreateHostKey(path string) (string, error) {
	blob, err := os.ReadFile(path)
	if err == nil {
		id, perr := uuid.ParseBytes(blob)
		if perr != nil {
			return "", errdef.Corrupted(perr, "host key %s", path)
		}
		return id.String(), nil
	}
	if !os.IsNotExist(err) {
		return "", errdef.IO(err, "reading host key %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errdef.IO(err, "creating %s", dir)
		}
	}
	id := uuid.New()
	if err := os.WriteFile(path, []byte(id.String()), 0o600); err != nil {
		return "", errdef.IO(err, "writing host key %s", path)
	}
	log.Info("created host key", zap.String("path", path), zap.String("hostKey", id.String()))
	return id.String(), nil
}

// EtcdMembership registers this node under a keepalive lease and watches the
// fleet prefix, so ListNodes reflects live members only.
type EtcdMembership struct {
	client *clientv3.Client
	self   string

	mu    sync.RWMutex
	nodes map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// JoinCluster registers self and starts watching the membership prefix.
func JoinCluster(ctx context.Context, client *clientv3.Client, self string) (*EtcdMembership, error) {
	lease, err := client.Grant(ctx, sessionTTL)
	if err != nil {
		return nil, errdef.IO(err, "granting membership lease")
	}
	if _, err := client.Put(ctx, membershipPrefix+self, self, clientv3.WithLease(lease.ID)); err != nil {
		return nil, errdef.IO(err, "registering node %s", self)
	}
	keepalive, err := client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return nil, errdef.IO(err, "keeping membership lease alive")
	}

	m := &EtcdMembership{
		client: client,
		self:   self,
		nodes:  map[string]struct{}{self: {}},
		done:   make(chan struct{}),
	}

	resp, err := client.Get(ctx, membershipPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errdef.IO(err, "listing cluster members")
	}
	for _, kv := range resp.Kvs {
		m.nodes[string(kv.Value)] = struct{}{}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	watch := client.Watch(watchCtx, membershipPrefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	go m.run(watch, keepalive)

	log.Info("joined searcher cluster", zap.String("node", self), zap.Int("members", len(m.nodes)))
	return m, nil
}

func (m *EtcdMembership) run(watch clientv3.WatchChan, keepalive <-chan *clientv3.LeaseKeepAliveResponse) {
	defer close(m.done)
	for {
		select {
		case resp, ok := <-watch:
			if !ok {
				return
			}
			m.mu.Lock()
			for _, ev := range resp.Events {
				node := string(ev.Kv.Key[len(membershipPrefix):])
				switch ev.Type {
				case clientv3.EventTypePut:
					m.nodes[node] = struct{}{}
					log.Info("cluster member joined", zap.String("node", node))
				case clientv3.EventTypeDelete:
					delete(m.nodes, node)
					log.Info("cluster member left", zap.String("node", node))
				}
			}
			m.mu.Unlock()
		case _, ok := <-keepalive:
			if !ok {
				log.Warn("membership lease expired")
				return
			}
		}
	}
}

var _ NodeLister = (*EtcdMembership)(nil)

func (m *EtcdMembership) ListNodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.nodes))
	for n := range m.nodes {
		out = append(out, n)
	}
	return out
}

func (m *EtcdMembership) ThisNode() string {
	return m.self
}

// Leave cancels the watch and deletes this node's registration key. The
// lease keepalive is not stopped here.
func (m *EtcdMembership) Leave(ctx context.Context) error {
	m.cancel()
	select {
	case <-m.done:
	case <-time.After(time.Second):
	}
	_, err := m.client.Delete(ctx, membershipPrefix+m.self)
	if err != nil {
		return errdef.IO(err, "deregistering node %s", m.self)
	}
	return nil
}
