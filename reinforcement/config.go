package reinforcement

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"conquest/game_state"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// OuterConfig is the config file envelope: a kind selector and an opaque definition
// which is re-marshalled into the concrete config for that kind.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig encodes the learning parameters outside of code: standard RL params
// (learning rate, discount, exploration schedule) as key/val pairs, plus the few
// structured settings for state encoding and action enumeration.
// Tags are lowercase because viper lowercases every key it reads.
type TrainingConfig struct {
	// HyperParams is a key-val pair of param names and their value.
	HyperParams []HyperParameter `yaml:"hyperparams"`
	// AttackRatios are the army fractions offered per attack target.
	AttackRatios []float64 `yaml:"attackratios"`
	// BuildCosts is the gold cost per structure kind; kinds without a cost are never built.
	BuildCosts map[string]int64 `yaml:"buildcosts"`
	// Reward holds the shaping weights passed to ShapedReward.
	Reward []HyperParameter `yaml:"reward"`
	// TrainingDeadline optionally bounds how long the agent runs, e.g. {duration: 2h}.
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return nil, nil, fmt.Errorf("training deadline: %w", err)
		}
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

func (cfg *TrainingConfig) getRewardOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.Reward {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// Params are the resolved policy parameters.
type Params struct {
	// Alpha is the learning rate.
	Alpha float64
	// Gamma is the discount, or how much to value future state values.
	Gamma float64
	// Epsilon is the starting exploration rate, decayed multiplicatively per decision
	// by EpsilonDecay and never below EpsilonMin.
	Epsilon      float64
	EpsilonMin   float64
	EpsilonDecay float64

	// MaxFanOut caps the spawn and the attack actions offered per tick.
	MaxFanOut    int
	AttackRatios []float64
	BuildCosts   map[game_state.BuildKind]int64

	PopulationBins int
	TerritoryBins  int
	// StrengthBuckets is the number of buckets on each side of an even troop ratio.
	StrengthBuckets int
	// StrengthRange clamps |log(own/enemy)| before bucketing.
	StrengthRange float64
}

// DefaultParams mirrors the values the agent has been tuned with.
func DefaultParams() Params {
	return Params{
		Alpha:           0.1,
		Gamma:           0.95,
		Epsilon:         0.2,
		EpsilonMin:      0.02,
		EpsilonDecay:    0.9995,
		MaxFanOut:       50,
		AttackRatios:    []float64{0.20, 0.40, 0.60, 0.80},
		BuildCosts:      map[game_state.BuildKind]int64{game_state.City: 125000},
		PopulationBins:  10,
		TerritoryBins:   10,
		StrengthBuckets: 3,
		StrengthRange:   2.0,
	}
}

// Params resolves the config against DefaultParams.
func (cfg *TrainingConfig) Params() Params {
	p := DefaultParams()
	p.Alpha = cfg.GetHyperParamOrDefault("alpha", p.Alpha)
	p.Gamma = cfg.GetHyperParamOrDefault("gamma", p.Gamma)
	p.Epsilon = cfg.GetHyperParamOrDefault("epsilon", p.Epsilon)
	p.EpsilonMin = cfg.GetHyperParamOrDefault("epsilonMin", p.EpsilonMin)
	p.EpsilonDecay = cfg.GetHyperParamOrDefault("epsilonDecay", p.EpsilonDecay)
	p.MaxFanOut = int(cfg.GetHyperParamOrDefault("maxFanOut", float64(p.MaxFanOut)))
	p.PopulationBins = int(cfg.GetHyperParamOrDefault("populationBins", float64(p.PopulationBins)))
	p.TerritoryBins = int(cfg.GetHyperParamOrDefault("territoryBins", float64(p.TerritoryBins)))
	p.StrengthBuckets = int(cfg.GetHyperParamOrDefault("strengthBuckets", float64(p.StrengthBuckets)))
	p.StrengthRange = cfg.GetHyperParamOrDefault("strengthRange", p.StrengthRange)

	if len(cfg.AttackRatios) > 0 {
		p.AttackRatios = cfg.AttackRatios
	}
	if len(cfg.BuildCosts) > 0 {
		p.BuildCosts = map[game_state.BuildKind]int64{}
		for kind, cost := range cfg.BuildCosts {
			p.BuildCosts[game_state.BuildKind(kind)] = cost
		}
	}
	return p
}

// RewardConfig resolves the shaping weights against DefaultRewardConfig.
func (cfg *TrainingConfig) RewardConfig() RewardConfig {
	r := DefaultRewardConfig()
	r.Step = cfg.getRewardOrDefault("step", r.Step)
	r.SpawnSuccess = cfg.getRewardOrDefault("spawnSuccess", r.SpawnSuccess)
	r.MissedSpawn = cfg.getRewardOrDefault("missedSpawn", r.MissedSpawn)
	r.TerritoryGain = cfg.getRewardOrDefault("territoryGain", r.TerritoryGain)
	r.TerritoryLoss = cfg.getRewardOrDefault("territoryLoss", r.TerritoryLoss)
	return r
}

// FromYaml reads a training config file. Viper handles locating and parsing the file;
// the definition is then round-tripped through yaml into TrainingConfig, since viper
// does not decode nested key/val lists the way yaml tags describe them.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}

	var spec []byte
	if spec, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	innerConfig := &TrainingConfig{}
	if err = yaml.Unmarshal(spec, innerConfig); err != nil {
		return nil, err
	}

	return innerConfig, nil
}
