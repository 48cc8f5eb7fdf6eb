package scripthost

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/amosweiskopf/sws/internal/csvsink"
	"github.com/amosweiskopf/sws/internal/htmldoc"
	"github.com/amosweiskopf/sws/internal/robot"
)

const (
	htmlTypeName            = "sws.Html"
	selectTypeName          = "sws.Select"
	elemRefTypeName         = "sws.ElemRef"
	dateTypeName            = "sws.Date"
	recordTypeName          = "sws.Record"
	scrapingContextTypeName = "sws.ScrapingContext"
	crawlingContextTypeName = "sws.CrawlingContext"
	robotTypeName           = "sws.Robot"
	pageLocationTypeName    = "sws.PageLocation"
)

// registerClass installs a UserData type's metatable with __index
// pointing at its method table.
func registerClass(L *lua.LState, name string, methods map[string]lua.LGFunction) {
	mt := L.NewTypeMetatable(name)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))
}

func newUserData(L *lua.LState, typeName string, value any) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = value
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

// checkInvalidatable fetches userdata at argument 1 and raises a
// script-visible error if it was invalidated (its metatable cleared)
// at the end of the scrapPage/acceptUrl invocation that produced it.
func checkInvalidatable(L *lua.LState, typeName string) *lua.LUserData {
	ud := L.CheckUserData(1)
	if ud.Metatable == lua.LNil {
		L.RaiseError("%s used after its invocation returned", typeName)
		return nil
	}
	return ud
}

func checkHTML(L *lua.LState) *htmldoc.Document {
	ud := checkInvalidatable(L, htmlTypeName)
	doc, ok := ud.Value.(*htmldoc.Document)
	if !ok {
		L.ArgError(1, "Html expected")
	}
	return doc
}

func checkSelect(L *lua.LState) *htmldoc.Select {
	ud := L.CheckUserData(1)
	sel, ok := ud.Value.(*htmldoc.Select)
	if !ok {
		L.ArgError(1, "Select expected")
	}
	return sel
}

func checkElemRef(L *lua.LState) htmldoc.ElemRef {
	ud := L.CheckUserData(1)
	e, ok := ud.Value.(htmldoc.ElemRef)
	if !ok {
		L.ArgError(1, "ElemRef expected")
	}
	return e
}

func checkRecord(L *lua.LState) *csvsink.Record {
	ud := L.CheckUserData(1)
	r, ok := ud.Value.(*csvsink.Record)
	if !ok {
		L.ArgError(1, "Record expected")
	}
	return r
}

func checkDate(L *lua.LState) date {
	ud := L.CheckUserData(1)
	d, ok := ud.Value.(date)
	if !ok {
		L.ArgError(1, "Date expected")
	}
	return d
}

func checkScrapingContext(L *lua.LState) *ScrapingContext {
	ud := checkInvalidatable(L, scrapingContextTypeName)
	ctx, ok := ud.Value.(*ScrapingContext)
	if !ok {
		L.ArgError(1, "ScrapingContext expected")
	}
	return ctx
}

func checkCrawlingContext(L *lua.LState) *CrawlingContext {
	ud := L.CheckUserData(1)
	ctx, ok := ud.Value.(*CrawlingContext)
	if !ok {
		L.ArgError(1, "CrawlingContext expected")
	}
	return ctx
}

func checkRobot(L *lua.LState) *robot.Robot {
	ud := L.CheckUserData(1)
	r, ok := ud.Value.(*robot.Robot)
	if !ok {
		L.ArgError(1, "Robot expected")
	}
	return r
}

func checkPageLocation(L *lua.LState) PageLocation {
	ud := L.CheckUserData(1)
	pl, ok := ud.Value.(PageLocation)
	if !ok {
		L.ArgError(1, "PageLocation expected")
	}
	return pl
}

func registerBindings(L *lua.LState) *lua.LTable {
	registerClass(L, htmlTypeName, map[string]lua.LGFunction{
		"select": htmlSelect,
	})
	registerClass(L, selectTypeName, map[string]lua.LGFunction{
		"iter":      selectIter,
		"enumerate": selectEnumerate,
	})
	registerClass(L, elemRefTypeName, map[string]lua.LGFunction{
		"select":    elemRefSelect,
		"innerHtml": elemRefInnerHTML,
		"innerText": elemRefInnerText,
		"attr":      elemRefAttr,
		"attrs":     elemRefAttrs,
		"classes":   elemRefClasses,
		"hasClass":  elemRefHasClass,
	})
	registerClass(L, dateTypeName, map[string]lua.LGFunction{
		"format": dateFormat,
	})
	registerClass(L, recordTypeName, map[string]lua.LGFunction{
		"pushField": recordPushField,
	})
	registerClass(L, scrapingContextTypeName, map[string]lua.LGFunction{
		"pageLocation": ctxPageLocation,
		"sendRecord":   ctxSendRecord,
		"sendUrl":      ctxSendURL,
		"workerId":     ctxWorkerID,
		"robot":        ctxRobot,
	})
	registerClass(L, crawlingContextTypeName, map[string]lua.LGFunction{
		"robot":   crawlingCtxRobot,
		"sitemap": crawlingCtxSitemap,
	})
	registerClass(L, robotTypeName, map[string]lua.LGFunction{
		"allowed": robotAllowed,
	})
	registerClass(L, pageLocationTypeName, map[string]lua.LGFunction{
		"kind": pageLocationKind,
		"get":  pageLocationGet,
	})

	sws := L.NewTable()

	recordTable := L.NewTable()
	L.SetField(recordTable, "new", L.NewFunction(recordNew))
	sws.RawSetString("Record", recordTable)

	sws.RawSetString("Date", L.NewFunction(dateNew))

	locationTable := L.NewTable()
	locationTable.RawSetString("URL", lua.LString("URL"))
	locationTable.RawSetString("PATH", lua.LString("PATH"))
	sws.RawSetString("Location", locationTable)

	sitemapTable := L.NewTable()
	sitemapTable.RawSetString("INDEX", lua.LString("INDEX"))
	sitemapTable.RawSetString("URL_SET", lua.LString("URL_SET"))
	sws.RawSetString("Sitemap", sitemapTable)

	L.SetGlobal("sws", sws)
	return sws
}

// --- Html ---

func htmlSelect(L *lua.LState) int {
	doc := checkHTML(L)
	raw := L.CheckString(2)
	sel, err := htmldoc.CompileSelector(raw)
	if err != nil {
		L.RaiseError("invalid CSS selector %q: %v", raw, err)
	}
	L.Push(newUserData(L, selectTypeName, doc.Select(sel)))
	return 1
}

// --- Select ---

func selectIter(L *lua.LState) int {
	s := checkSelect(L)
	elems := s.Iter()
	i := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if i >= len(elems) {
			L.Push(lua.LNil)
			return 1
		}
		e := elems[i]
		i++
		L.Push(newUserData(L, elemRefTypeName, e))
		return 1
	}))
	return 1
}

func selectEnumerate(L *lua.LState) int {
	s := checkSelect(L)
	elems := s.Enumerate()
	i := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if i >= len(elems) {
			L.Push(lua.LNil)
			return 1
		}
		e := elems[i]
		i++
		L.Push(lua.LNumber(e.Index))
		L.Push(newUserData(L, elemRefTypeName, e.Elem))
		return 2
	}))
	return 1
}

// --- ElemRef ---

func elemRefSelect(L *lua.LState) int {
	e := checkElemRef(L)
	raw := L.CheckString(2)
	sel, err := htmldoc.CompileSelector(raw)
	if err != nil {
		L.RaiseError("invalid CSS selector %q: %v", raw, err)
	}
	L.Push(newUserData(L, selectTypeName, e.Select(sel)))
	return 1
}

func elemRefInnerHTML(L *lua.LState) int {
	e := checkElemRef(L)
	html, err := e.InnerHTML()
	if err != nil {
		L.RaiseError("innerHtml: %v", err)
	}
	L.Push(lua.LString(html))
	return 1
}

func elemRefInnerText(L *lua.LState) int {
	e := checkElemRef(L)
	L.Push(lua.LString(e.InnerText()))
	return 1
}

func elemRefAttr(L *lua.LState) int {
	e := checkElemRef(L)
	name := L.CheckString(2)
	v, ok := e.Attr(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func elemRefAttrs(L *lua.LState) int {
	e := checkElemRef(L)
	tbl := L.NewTable()
	for k, v := range e.Attrs() {
		tbl.RawSetString(k, lua.LString(v))
	}
	L.Push(tbl)
	return 1
}

func elemRefClasses(L *lua.LState) int {
	e := checkElemRef(L)
	tbl := L.NewTable()
	for _, c := range e.Classes() {
		tbl.Append(lua.LString(c))
	}
	L.Push(tbl)
	return 1
}

func elemRefHasClass(L *lua.LState) int {
	e := checkElemRef(L)
	L.Push(lua.LBool(e.HasClass(L.CheckString(2))))
	return 1
}

// --- Date ---

func dateNew(L *lua.LState) int {
	s := L.CheckString(1)
	fmtIn := L.CheckString(2)
	d, err := parseDate(s, fmtIn)
	if err != nil {
		L.RaiseError("Date: %v", err)
	}
	L.Push(newUserData(L, dateTypeName, d))
	return 1
}

func dateFormat(L *lua.LState) int {
	d := checkDate(L)
	out, err := d.format(L.CheckString(2))
	if err != nil {
		L.RaiseError("Date:format: %v", err)
	}
	L.Push(lua.LString(out))
	return 1
}

// --- Record ---

func recordNew(L *lua.LState) int {
	L.Push(newUserData(L, recordTypeName, csvsink.NewRecord()))
	return 1
}

func recordPushField(L *lua.LState) int {
	r := checkRecord(L)
	r.PushField(L.CheckString(2))
	return 0
}

// --- ScrapingContext ---

func ctxPageLocation(L *lua.LState) int {
	ctx := checkScrapingContext(L)
	L.Push(newUserData(L, pageLocationTypeName, ctx.Location))
	return 1
}

func ctxSendRecord(L *lua.LState) int {
	ctx := checkScrapingContext(L)
	r := L.CheckUserData(2)
	record, ok := r.Value.(*csvsink.Record)
	if !ok {
		L.ArgError(2, "Record expected")
	}
	ctx.SendRecord(record.Fields())
	return 0
}

func ctxSendURL(L *lua.LState) int {
	ctx := checkScrapingContext(L)
	ctx.SendURL(L.CheckString(2))
	return 0
}

func ctxWorkerID(L *lua.LState) int {
	ctx := checkScrapingContext(L)
	L.Push(lua.LString(strconv.Itoa(ctx.WorkerID)))
	return 1
}

func ctxRobot(L *lua.LState) int {
	ctx := checkScrapingContext(L)
	if ctx.Robot == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(newUserData(L, robotTypeName, ctx.Robot))
	return 1
}

// --- CrawlingContext ---

func crawlingCtxRobot(L *lua.LState) int {
	ctx := checkCrawlingContext(L)
	if ctx.Robot == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(newUserData(L, robotTypeName, ctx.Robot))
	return 1
}

func crawlingCtxSitemap(L *lua.LState) int {
	ctx := checkCrawlingContext(L)
	L.Push(lua.LString(ctx.Sitemap.String()))
	return 1
}

// --- Robot ---

func robotAllowed(L *lua.LState) int {
	r := checkRobot(L)
	L.Push(lua.LBool(r.Allowed(L.CheckString(2))))
	return 1
}

// --- PageLocation ---

func pageLocationKind(L *lua.LState) int {
	pl := checkPageLocation(L)
	L.Push(lua.LString(pl.Kind.String()))
	return 1
}

func pageLocationGet(L *lua.LState) int {
	pl := checkPageLocation(L)
	L.Push(lua.LString(pl.Value))
	return 1
}
