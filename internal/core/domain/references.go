package domain

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// TableRef is a base-table reference found in a FROM clause.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	Alias  string `json:"alias,omitempty"`
}

// Identifier is the reference as written, without its alias.
func (t TableRef) Identifier() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// FromItem is one FROM item visible at some point of the query: a base table
// or a derived table (subquery, CTE, function).
type FromItem struct {
	Name    string    // visible name: alias if present, else relation name
	Table   *TableRef // nil for derived sources
	Columns []string  // known output columns of a derived source
	Open    bool      // derived source whose output columns are unknown
}

// ScopeLevel is the set of sources of one SELECT.
type ScopeLevel struct {
	Sources []*FromItem
	Merged  []string // JOIN ... USING columns
	Natural bool
}

// ColumnRef is a column reference with its qualification preserved.
type ColumnRef struct {
	Schema string
	Table  string // qualifier as written; may be an alias
	Name   string
	// Star marks a qualified star (t.*); only its qualifier is checked.
	Star bool
	// Scope holds the levels visible from the reference, innermost first.
	Scope []*ScopeLevel
}

// Identifier is the reference as written.
func (c ColumnRef) Identifier() string {
	parts := make([]string, 0, 3)
	if c.Schema != "" {
		parts = append(parts, c.Schema)
	}
	if c.Table != "" {
		parts = append(parts, c.Table)
	}
	return strings.Join(append(parts, c.Name), ".")
}

// Qualified reports whether the column carries a table qualifier.
func (c ColumnRef) Qualified() bool {
	return c.Table != ""
}

// ParsedReference holds the distinct tables and columns a statement uses.
type ParsedReference struct {
	Tables  []TableRef
	Columns []ColumnRef
}

// ExtractReferences walks the statement's parse tree and collects every base
// table and column reference, including those inside joins, CTEs, set
// operations and subqueries anywhere in an expression.
func ExtractReferences(stmt *Statement) *ParsedReference {
	w := &walker{
		refs:       &ParsedReference{},
		seenTables: make(map[string]bool),
		seenCols:   make(map[string]bool),
		levelIDs:   make(map[*ScopeLevel]int),
	}
	if stmt == nil || stmt.Tree == nil || len(stmt.Tree.Stmts) == 0 {
		return w.refs
	}
	w.walkSelect(stmt.Select(), nil)
	return w.refs
}

type cteInfo struct {
	columns []string
	open    bool
}

// scope is the walker's view of a SELECT: its level plus lexical context.
type scope struct {
	parent  *scope
	level   *ScopeLevel
	ctes    map[string]*cteInfo
	outputs map[string]bool // output column names usable by ORDER BY / GROUP BY
}

func (s *scope) chain() []*ScopeLevel {
	var levels []*ScopeLevel
	for cur := s; cur != nil; cur = cur.parent {
		if cur.level != nil {
			levels = append(levels, cur.level)
		}
	}
	return levels
}

func (s *scope) cte(name string) (*cteInfo, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if c, ok := cur.ctes[name]; ok {
			return c, true
		}
	}
	return nil, false
}

type walker struct {
	refs       *ParsedReference
	seenTables map[string]bool
	seenCols   map[string]bool
	levelIDs   map[*ScopeLevel]int
}

func (w *walker) walkSelect(sel *pg_query.SelectStmt, parent *scope) {
	if sel == nil {
		return
	}

	sc := &scope{parent: parent, level: &ScopeLevel{}}
	w.levelIDs[sc.level] = len(w.levelIDs)

	if with := sel.WithClause; with != nil {
		sc.ctes = make(map[string]*cteInfo, len(with.Ctes))
		// CTE bodies see earlier CTEs and outer queries, not this FROM.
		cteScope := &scope{parent: parent, ctes: sc.ctes}
		for _, node := range with.Ctes {
			cte := node.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			info := &cteInfo{open: true}
			if with.Recursive {
				sc.ctes[cte.Ctename] = info
			}
			inner := cte.GetCtequery().GetSelectStmt()
			w.walkSelect(inner, cteScope)
			if names := stringList(cte.Aliascolnames); len(names) > 0 {
				info.columns, info.open = names, false
			} else if names, ok := outputNames(inner); ok {
				info.columns, info.open = names, false
			}
			sc.ctes[cte.Ctename] = info
		}
	}

	// Set operations: each arm is its own SELECT; ORDER BY sees the output
	// columns of the left-most arm.
	if sel.Larg != nil || sel.Rarg != nil {
		w.walkSelect(sel.Larg, sc)
		w.walkSelect(sel.Rarg, sc)
		if names, ok := outputNames(sel.Larg); ok {
			sc.outputs = toSet(names)
		} else {
			sc.outputs = nil
			sc.level.Sources = append(sc.level.Sources, &FromItem{Open: true})
		}
		w.walkSortClause(sel.SortClause, sc)
		w.walkExprs(sc, sel.LimitCount, sel.LimitOffset)
		return
	}

	for _, item := range sel.FromClause {
		w.walkFromItem(item, sc)
	}

	sc.outputs = make(map[string]bool)
	for _, node := range sel.TargetList {
		if rt := node.GetResTarget(); rt != nil && rt.Name != "" {
			sc.outputs[rt.Name] = true
		}
	}

	for _, node := range sel.TargetList {
		if rt := node.GetResTarget(); rt != nil {
			w.walkExpr(rt.Val, sc, false)
		}
	}
	for _, row := range sel.ValuesLists {
		w.walkExpr(row, sc, false)
	}
	for _, node := range sel.DistinctClause {
		w.walkExpr(node, sc, false)
	}
	w.walkExprs(sc, sel.WhereClause, sel.HavingClause, sel.LimitCount, sel.LimitOffset)
	for _, node := range sel.GroupClause {
		w.walkExpr(node, sc, true)
	}
	for _, node := range sel.WindowClause {
		w.walkExpr(node, sc, false)
	}
	w.walkSortClause(sel.SortClause, sc)
}

func (w *walker) walkSortClause(nodes []*pg_query.Node, sc *scope) {
	for _, node := range nodes {
		if sb := node.GetSortBy(); sb != nil {
			w.walkExpr(sb.Node, sc, true)
			continue
		}
		w.walkExpr(node, sc, true)
	}
}

func (w *walker) walkExprs(sc *scope, nodes ...*pg_query.Node) {
	for _, n := range nodes {
		w.walkExpr(n, sc, false)
	}
}

func (w *walker) walkFromItem(node *pg_query.Node, sc *scope) {
	if node == nil {
		return
	}
	switch {
	case node.GetRangeVar() != nil:
		w.addRangeVar(node.GetRangeVar(), sc)

	case node.GetJoinExpr() != nil:
		j := node.GetJoinExpr()
		w.walkFromItem(j.Larg, sc)
		w.walkFromItem(j.Rarg, sc)
		if j.IsNatural {
			sc.level.Natural = true
		}
		sc.level.Merged = append(sc.level.Merged, stringList(j.UsingClause)...)
		w.walkExpr(j.Quals, sc, false)

	case node.GetRangeSubselect() != nil:
		rs := node.GetRangeSubselect()
		inner := rs.GetSubquery().GetSelectStmt()
		// Non-lateral subqueries cannot see sibling FROM items, but they can
		// still see outer queries.
		parent := &scope{parent: sc.parent, ctes: sc.ctes}
		if rs.Lateral {
			parent = sc
		}
		w.walkSelect(inner, parent)
		src := &FromItem{Name: rs.GetAlias().GetAliasname()}
		if names := stringList(rs.GetAlias().GetColnames()); len(names) > 0 {
			src.Columns = names
		} else if names, ok := outputNames(inner); ok {
			src.Columns = names
		} else {
			src.Open = true
		}
		sc.level.Sources = append(sc.level.Sources, src)

	case node.GetRangeFunction() != nil:
		rf := node.GetRangeFunction()
		for _, fn := range rf.Functions {
			w.walkExpr(fn, sc, false)
		}
		src := &FromItem{Name: rf.GetAlias().GetAliasname(), Open: true}
		if names := stringList(rf.GetAlias().GetColnames()); len(names) > 0 {
			src.Columns, src.Open = names, false
		}
		sc.level.Sources = append(sc.level.Sources, src)

	default:
		// Table functions, XMLTABLE and the like: columns cannot be checked.
		w.walkExpr(node, sc, false)
		sc.level.Sources = append(sc.level.Sources, &FromItem{Open: true})
	}
}

func (w *walker) addRangeVar(rv *pg_query.RangeVar, sc *scope) {
	visible := rv.Relname
	if alias := rv.GetAlias().GetAliasname(); alias != "" {
		visible = alias
	}

	if rv.Schemaname == "" {
		if cte, ok := sc.cte(rv.Relname); ok {
			sc.level.Sources = append(sc.level.Sources, &FromItem{
				Name:    visible,
				Columns: cte.columns,
				Open:    cte.open,
			})
			return
		}
	}

	ref := &TableRef{Schema: rv.Schemaname, Name: rv.Relname, Alias: rv.GetAlias().GetAliasname()}
	src := &FromItem{Name: visible, Table: ref}
	if names := stringList(rv.GetAlias().GetColnames()); len(names) > 0 {
		// Column aliases rename the table's columns positionally; the
		// original names are no longer visible.
		src.Table, src.Columns = nil, names
	}
	sc.level.Sources = append(sc.level.Sources, src)

	key := ref.Identifier()
	if !w.seenTables[key] {
		w.seenTables[key] = true
		w.refs.Tables = append(w.refs.Tables, TableRef{Schema: ref.Schema, Name: ref.Name, Alias: ref.Alias})
	}
}

// walkExpr visits every node of an expression tree. Nested SELECTs open a new
// scope whose parent is sc (correlated subqueries see outer sources).
func (w *walker) walkExpr(node *pg_query.Node, sc *scope, outputsVisible bool) {
	if node == nil {
		return
	}
	w.visit(node.ProtoReflect(), sc, outputsVisible)
}

func (w *walker) visit(m protoreflect.Message, sc *scope, outputsVisible bool) {
	switch n := m.Interface().(type) {
	case *pg_query.SelectStmt:
		w.walkSelect(n, sc)
		return
	case *pg_query.ColumnRef:
		w.addColumnRef(n, sc, outputsVisible)
		return
	}

	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				w.visit(list.Get(i).Message(), sc, outputsVisible)
			}
			return true
		}
		w.visit(v.Message(), sc, outputsVisible)
		return true
	})
}

func (w *walker) addColumnRef(cr *pg_query.ColumnRef, sc *scope, outputsVisible bool) {
	var parts []string
	star := false
	for _, f := range cr.Fields {
		if f.GetAStar() != nil {
			star = true
			break
		}
		parts = append(parts, f.GetString_().GetSval())
	}
	if len(parts) == 0 {
		return
	}

	ref := ColumnRef{Scope: sc.chain()}
	if star {
		// t.* or s.t.*: the qualifier must still name a visible table.
		ref.Name, ref.Star = "*", true
		ref.Table = parts[len(parts)-1]
		if len(parts) > 1 {
			ref.Schema = parts[len(parts)-2]
		}
	} else {
		ref.Name = parts[len(parts)-1]
		switch len(parts) {
		case 1:
			if outputsVisible && sc.outputs[ref.Name] {
				return
			}
		case 2:
			ref.Table = parts[0]
		default:
			// catalog.schema.table.column keeps the last three parts.
			ref.Schema, ref.Table = parts[len(parts)-3], parts[len(parts)-2]
		}
	}

	key := ref.Identifier() + "@" + strconv.Itoa(w.levelIDs[sc.level])
	if w.seenCols[key] {
		return
	}
	w.seenCols[key] = true
	w.refs.Columns = append(w.refs.Columns, ref)
}

// outputNames derives the column names a SELECT produces, the way PostgreSQL
// names them. ok is false when the list is unknowable: a star, or a target
// PostgreSQL would call "?column?".
func outputNames(sel *pg_query.SelectStmt) ([]string, bool) {
	if sel == nil {
		return nil, false
	}
	if sel.Larg != nil {
		return outputNames(sel.Larg)
	}
	if len(sel.ValuesLists) > 0 {
		width := len(sel.ValuesLists[0].GetList().GetItems())
		names := make([]string, width)
		for i := range names {
			names[i] = "column" + strconv.Itoa(i+1)
		}
		return names, true
	}

	names := make([]string, 0, len(sel.TargetList))
	for _, node := range sel.TargetList {
		name, ok := targetName(node.GetResTarget())
		if !ok {
			return nil, false
		}
		names = append(names, name)
	}
	return names, true
}

func targetName(rt *pg_query.ResTarget) (string, bool) {
	if rt == nil {
		return "", false
	}
	if rt.Name != "" {
		return rt.Name, true
	}
	if cr := rt.Val.GetColumnRef(); cr != nil && len(cr.Fields) > 0 && cr.Fields[len(cr.Fields)-1].GetAStar() != nil {
		return "", false
	}
	name, strength := figureName(rt.Val)
	return name, strength > nameNone
}

// Name strengths, as PostgreSQL ranks them when naming an unaliased target.
const (
	nameNone = iota
	nameWeak
	nameStrong
)

// figureName mirrors PostgreSQL's FigureColname for the expressions a
// grading query plausibly contains.
func figureName(node *pg_query.Node) (string, int) {
	if node == nil {
		return "", nameNone
	}
	switch {
	case node.GetColumnRef() != nil:
		var name string
		for _, f := range node.GetColumnRef().Fields {
			if s := f.GetString_(); s != nil {
				name = s.Sval
			}
		}
		if name != "" {
			return name, nameStrong
		}
	case node.GetAIndirection() != nil:
		ind := node.GetAIndirection()
		var name string
		for _, f := range ind.Indirection {
			if s := f.GetString_(); s != nil {
				name = s.Sval
			}
		}
		if name != "" {
			return name, nameStrong
		}
		return figureName(ind.Arg)
	case node.GetFuncCall() != nil:
		fn := node.GetFuncCall().Funcname
		return fn[len(fn)-1].GetString_().GetSval(), nameStrong
	case node.GetAExpr() != nil:
		if node.GetAExpr().Kind == pg_query.A_Expr_Kind_AEXPR_NULLIF {
			return "nullif", nameStrong
		}
	case node.GetTypeCast() != nil:
		tc := node.GetTypeCast()
		name, strength := figureName(tc.Arg)
		if strength > nameWeak {
			return name, strength
		}
		if names := tc.GetTypeName().GetNames(); len(names) > 0 {
			return names[len(names)-1].GetString_().GetSval(), nameWeak
		}
		return name, strength
	case node.GetCollateClause() != nil:
		return figureName(node.GetCollateClause().Arg)
	case node.GetGroupingFunc() != nil:
		return "grouping", nameStrong
	case node.GetSubLink() != nil:
		sl := node.GetSubLink()
		switch sl.SubLinkType {
		case pg_query.SubLinkType_EXISTS_SUBLINK:
			return "exists", nameStrong
		case pg_query.SubLinkType_ARRAY_SUBLINK:
			return "array", nameStrong
		case pg_query.SubLinkType_EXPR_SUBLINK:
			inner := sl.GetSubselect().GetSelectStmt()
			for inner != nil && inner.Larg != nil {
				inner = inner.Larg
			}
			if inner != nil && len(inner.TargetList) > 0 {
				if name, ok := targetName(inner.TargetList[0].GetResTarget()); ok {
					return name, nameStrong
				}
			}
		}
	case node.GetCaseExpr() != nil:
		name, strength := figureName(node.GetCaseExpr().Defresult)
		if strength > nameWeak {
			return name, strength
		}
		return "case", nameWeak
	case node.GetAArrayExpr() != nil:
		return "array", nameStrong
	case node.GetRowExpr() != nil:
		return "row", nameStrong
	case node.GetCoalesceExpr() != nil:
		return "coalesce", nameStrong
	case node.GetMinMaxExpr() != nil:
		// IS_GREATEST, IS_LEAST
		return strings.ToLower(strings.TrimPrefix(node.GetMinMaxExpr().Op.String(), "IS_")), nameStrong
	case node.GetSqlvalueFunction() != nil:
		// SVFOP_CURRENT_TIMESTAMP_N and friends
		op := strings.TrimPrefix(node.GetSqlvalueFunction().Op.String(), "SVFOP_")
		return strings.ToLower(strings.TrimSuffix(op, "_N")), nameStrong
	}
	return "?column?", nameNone
}

func stringList(nodes []*pg_query.Node) []string {
	var out []string
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			out = append(out, s.Sval)
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
