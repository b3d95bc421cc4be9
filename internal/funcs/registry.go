package funcs

import (
	"fmt"

	"github.com/wayfinderhq/wayfinder/internal/types"
)

/*
 * Function registry.
 *
 * Binds the library functions to the stable ids rule documents call them
 * by. The registry carries the partition table it resolves against, so
 * two registries built over different tables never interfere.
 */

// Builtin is one registered function: a stable id, a fixed arity, and the
// evaluation body. Eval receives exactly Arity arguments.
type Builtin struct {
	ID    string
	Arity int
	Eval  func(args []Value) (Value, error)
}

// Registry resolves function ids to builtins.
type Registry struct {
	table    *PartitionTable
	builtins map[string]Builtin
}

// NewRegistry builds a registry resolving partitions against table. A nil
// table uses the embedded default.
func NewRegistry(table *PartitionTable) *Registry {
	if table == nil {
		table = DefaultPartitionTable()
	}
	r := &Registry{
		table:    table,
		builtins: make(map[string]Builtin),
	}
	r.register(Builtin{
		ID:    "aws.parseArn",
		Arity: 1,
		Eval:  evalParseArn,
	})
	r.register(Builtin{
		ID:    "aws.partition",
		Arity: 1,
		Eval:  r.evalPartition,
	})
	r.register(Builtin{
		ID:    "aws.isVirtualHostableS3Bucket",
		Arity: 2,
		Eval:  evalIsVirtualHostableBucket,
	})
	return r
}

func (r *Registry) register(b Builtin) {
	r.builtins[b.ID] = b
}

// Lookup returns the builtin registered under id.
func (r *Registry) Lookup(id string) (Builtin, bool) {
	b, ok := r.builtins[id]
	return b, ok
}

// Call invokes the builtin registered under id, checking arity first.
func (r *Registry) Call(id string, args []Value) (Value, error) {
	b, ok := r.Lookup(id)
	if !ok {
		return None(), fmt.Errorf("%w: %q", types.ErrUnknownFunction, id)
	}
	if len(args) != b.Arity {
		return None(), fmt.Errorf("%w: %q wants %d arguments, got %d",
			types.ErrArityMismatch, id, b.Arity, len(args))
	}
	return b.Eval(args)
}

func evalParseArn(args []Value) (Value, error) {
	text, ok := args[0].AsString()
	if !ok {
		return None(), fmt.Errorf("%w: aws.parseArn argument must be a string", types.ErrTypeMismatch)
	}
	arn, ok := ParseArn(text)
	if !ok {
		return None(), nil
	}
	return arn.toValue(), nil
}

func (r *Registry) evalPartition(args []Value) (Value, error) {
	region, ok := args[0].AsString()
	if !ok {
		return None(), fmt.Errorf("%w: aws.partition argument must be a string", types.ErrTypeMismatch)
	}
	match, err := r.table.Resolve(region)
	if err != nil {
		return None(), err
	}
	return match.toValue(), nil
}

func evalIsVirtualHostableBucket(args []Value) (Value, error) {
	name, ok := args[0].AsString()
	if !ok {
		return None(), fmt.Errorf("%w: bucket name must be a string", types.ErrTypeMismatch)
	}
	allowDots, ok := args[1].AsBool()
	if !ok {
		return None(), fmt.Errorf("%w: allowDots must be a boolean", types.ErrTypeMismatch)
	}
	return Boolean(IsVirtualHostableBucket(name, allowDots)), nil
}
