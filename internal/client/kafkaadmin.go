package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/dataflowhq/control-plane/internal/models"
)

type KafkaConfig struct {
	Brokers   []string
	APIKey    string
	APISecret string
	TLS       bool
}

// KafkaAdmin wraps broker administration: topic create/list/describe/delete.
type KafkaAdmin struct {
	adm    *kadm.Client
	client *kgo.Client
}

func NewKafkaAdmin(cfg KafkaConfig) (*KafkaAdmin, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}

	if cfg.APIKey != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.APIKey,
			Pass: cfg.APISecret,
		}.AsMechanism()))
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &KafkaAdmin{adm: kadm.NewClient(cl), client: cl}, nil
}

func (k *KafkaAdmin) Close() {
	k.client.Close()
}

type TopicSpec struct {
	Partitions    int32
	Replication   int16
	RetentionMS   int64
	CleanupPolicy string
}

func (k *KafkaAdmin) CreateTopic(ctx context.Context, name string, spec TopicSpec) error {
	configs := map[string]*string{}
	if spec.RetentionMS > 0 {
		v := strconv.FormatInt(spec.RetentionMS, 10)
		configs["retention.ms"] = &v
	}
	if spec.CleanupPolicy != "" {
		configs["cleanup.policy"] = &spec.CleanupPolicy
	}

	resp, err := k.adm.CreateTopic(ctx, spec.Partitions, spec.Replication, configs, name)
	if err != nil {
		return fmt.Errorf("%w: create topic %s: %v", models.ErrExternalSystem, name, err)
	}
	if resp.Err != nil && !strings.Contains(resp.Err.Error(), "TOPIC_ALREADY_EXISTS") {
		return fmt.Errorf("%w: create topic %s: %v", models.ErrExternalSystem, name, resp.Err)
	}

	return nil
}

// ListTopics returns topic names, optionally restricted to a prefix, sorted
// for stable output.
func (k *KafkaAdmin) ListTopics(ctx context.Context, prefix string) ([]string, error) {
	details, err := k.adm.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list topics: %v", models.ErrExternalSystem, err)
	}

	var names []string
	for name := range details {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

type TopicInfo struct {
	Name       string
	Partitions int
	Leaders    map[int32]int32
	ISR        map[int32][]int32
}

func (k *KafkaAdmin) DescribeTopic(ctx context.Context, name string) (*TopicInfo, error) {
	details, err := k.adm.ListTopics(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: describe topic %s: %v", models.ErrExternalSystem, name, err)
	}

	d, ok := details[name]
	if !ok || d.Err != nil {
		return nil, fmt.Errorf("%w: topic %q", models.ErrNotFound, name)
	}

	info := &TopicInfo{
		Name:       name,
		Partitions: len(d.Partitions),
		Leaders:    make(map[int32]int32, len(d.Partitions)),
		ISR:        make(map[int32][]int32, len(d.Partitions)),
	}
	for _, p := range d.Partitions.Sorted() {
		info.Leaders[p.Partition] = p.Leader
		info.ISR[p.Partition] = p.ISR
	}

	return info, nil
}

// DeleteTopics deletes the named topics; unknown topics are ignored so
// retried teardowns converge.
func (k *KafkaAdmin) DeleteTopics(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}

	resp, err := k.adm.DeleteTopics(ctx, names...)
	if err != nil {
		return fmt.Errorf("%w: delete topics: %v", models.ErrExternalSystem, err)
	}

	var failed []string
	for name, r := range resp {
		if r.Err != nil && !strings.Contains(r.Err.Error(), "UNKNOWN_TOPIC_OR_PARTITION") {
			failed = append(failed, fmt.Sprintf("%s: %v", name, r.Err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: delete topics: %s", models.ErrExternalSystem, strings.Join(failed, "; "))
	}

	return nil
}
