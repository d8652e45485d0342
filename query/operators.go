package query

// sqlBinaryOp maps an operator name that translates directly to an
// infix SQL operator of the same arity.
var sqlBinaryOp = map[string]string{
	"=":    "=",
	"!=":   "<>",
	"<":    "<",
	"<=":   "<=",
	">":    ">",
	">=":   ">=",
	"LIKE": "LIKE",
}

// aggregateOps names the operators that translate to a plain SQL
// aggregate function of the same name over their single argument.
var aggregateOps = map[string]string{
	"COUNT": "COUNT",
	"SUM":   "SUM",
	"AVG":   "AVG",
	"MIN":   "MIN",
	"MAX":   "MAX",
}

// arithmeticOps maps the four-function arithmetic operators (plus
// modulo) to their SQL infix spelling; spec.md requires
// MISSING/NULL-propagating semantics, which the translator implements
// by wrapping operands rather than by choosing a different operator.
var arithmeticOps = map[string]string{
	"+": "+",
	"-": "-",
	"*": "*",
	"/": "/",
	"%": "%",
}

// metaColumns maps a meta reference name to the dedicated SQL column
// it reads from on the owning collection table.
var metaColumns = map[string]string{
	"_id":         "key",
	"_sequence":   "sequence",
	"_rev":        "version",
	"_expiration": "expiration",
	"_deleted":    "flags", // bit-tested, not read directly; see translateMeta
}

const deletedFlagBit = 1 << 0
