package pipeline

import (
	"slices"
	"strings"

	"derbyflow/internal/config"
)

// Definition is the immutable stage order and stage to queue mapping.
type Definition struct {
	stages     []string
	queues     map[string]string
	rootPrefix string
}

// NewDefinition copies its inputs. Queue names are case-normalized.
func NewDefinition(stages []string, queues map[string]string, rootPrefix string) Definition {
	normalized := make(map[string]string, len(queues))
	for stage, name := range queues {
		normalized[stage] = config.NormalizeQueueName(name)
	}
	return Definition{
		stages:     slices.Clone(stages),
		queues:     normalized,
		rootPrefix: rootPrefix,
	}
}

// FromConfig builds the definition from the pipeline section.
func FromConfig(cfg *config.Config) Definition {
	return NewDefinition(cfg.Pipeline.Stages, cfg.Pipeline.Queues, cfg.Pipeline.RootPrefix)
}

// Stages returns a copy of the ordered stage names.
func (d Definition) Stages() []string { return slices.Clone(d.stages) }

// RootPrefix returns the key prefix that makes a document eligible to progress.
func (d Definition) RootPrefix() string { return d.rootPrefix }

// Eligible reports whether key lives under the root prefix.
func (d Definition) Eligible(key string) bool {
	return strings.HasPrefix(key, d.rootPrefix)
}

// Index returns the position of stage, or -1.
func (d Definition) Index(stage string) int {
	return slices.Index(d.stages, stage)
}

// Next returns the stage after stage. It reports false for unknown and
// terminal stages.
func (d Definition) Next(stage string) (string, bool) {
	idx := d.Index(stage)
	if idx < 0 || idx == len(d.stages)-1 {
		return "", false
	}
	return d.stages[idx+1], true
}

// Queue returns the queue consuming stage.
func (d Definition) Queue(stage string) (string, bool) {
	name, ok := d.queues[stage]
	return name, ok && name != ""
}

// QueueNames returns every mapped queue in stage order without duplicates.
func (d Definition) QueueNames() []string {
	names := make([]string, 0, len(d.queues))
	for _, stage := range d.stages {
		if name, ok := d.Queue(stage); ok && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}
