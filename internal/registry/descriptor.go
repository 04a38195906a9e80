package registry

// Descriptor files are declarative YAML documents loaded once at startup.
// The registry is read-only after load; all dynamic binding happens through
// context maps at render time.

type CredentialField struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Label     string   `yaml:"label"`
	Encrypted bool     `yaml:"encrypted"`
	Options   []string `yaml:"options,omitempty"`
}

type ReadinessProbe struct {
	Name     string `yaml:"name"`
	Query    string `yaml:"query"`
	Setting  string `yaml:"setting,omitempty"`
	Expected string `yaml:"expected"`
	Fix      string `yaml:"fix,omitempty"`
}

type Capabilities struct {
	SupportsCDC         bool     `yaml:"supports_cdc"`
	SupportsFullLoad    bool     `yaml:"supports_full_load"`
	SupportsIncremental bool     `yaml:"supports_incremental"`
	ValueFormats        []string `yaml:"value_formats"`
}

type SourceDescriptor struct {
	Name              string            `yaml:"name"`
	DisplayName       string            `yaml:"display_name"`
	Description       string            `yaml:"description"`
	Capabilities      Capabilities      `yaml:"capabilities"`
	RequiredFields    []CredentialField `yaml:"required_fields"`
	OptionalFields    []CredentialField `yaml:"optional_fields"`
	ConnectorTemplate map[string]string `yaml:"connector_template"`
	DiscoveryQuery    string            `yaml:"discovery_query"`
	ReadinessProbes   []ReadinessProbe  `yaml:"readiness_probes"`
}

type SinkDescriptor struct {
	Name              string             `yaml:"name"`
	DisplayName       string             `yaml:"display_name"`
	Description       string             `yaml:"description"`
	TypeMap           map[string]string  `yaml:"type_map"`
	DefaultType       string             `yaml:"default_type"`
	CreateTableDDL    string             `yaml:"create_table_ddl"`
	ConnectorTemplate map[string]string  `yaml:"connector_template"`
	CostFactors       map[string]float64 `yaml:"cost_factors"`
}

type TransformDescriptor struct {
	Name        string         `yaml:"name"`
	DisplayName string         `yaml:"display_name"`
	Kind        string         `yaml:"kind"`
	Parameters  map[string]any `yaml:"parameters"`
}

// descriptorFile is the on-disk document shape; a file may declare any mix
// of descriptor kinds.
type descriptorFile struct {
	Sources    []SourceDescriptor    `yaml:"sources"`
	Sinks      []SinkDescriptor      `yaml:"sinks"`
	Transforms []TransformDescriptor `yaml:"transforms"`
}
