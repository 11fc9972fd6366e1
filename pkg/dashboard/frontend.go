package dashboard

import "net/http"

func (d *Dashboard) serveFrontend(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(frontendHTML))
}

const frontendHTML = `<!DOCTYPE html>
<html lang="en"><head>
<meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Insider Intel</title>
<link href="https://fonts.googleapis.com/css2?family=JetBrains+Mono:wght@300;400;500;600;700&family=Space+Grotesk:wght@400;500;600;700&display=swap" rel="stylesheet">
<style>
:root{--bg:#0a0b10;--sf:#10131b;--sf2:#171b26;--bd:#262b3b;--tx:#cbd0db;--tx2:#8a93a7;--tx3:#5c6479;--ac:#3b82f6;--gn:#10b981;--rd:#ef4444;--or:#f59e0b;--pr:#a855f7;--cy:#06b6d4;--go:#eab308}
*{margin:0;padding:0;box-sizing:border-box}
body{font:12px 'JetBrains Mono',monospace;background:var(--bg);color:var(--tx)}
.app{max-width:1400px;margin:0 auto;padding:18px 24px}
.hdr{display:flex;align-items:center;justify-content:space-between;padding-bottom:14px;margin-bottom:20px;border-bottom:1px solid var(--bd)}
.hdr h1{font:700 20px 'Space Grotesk',sans-serif;color:var(--ac)}
.live{margin-left:10px;padding:2px 9px;border-radius:12px;font-size:9px;letter-spacing:1px;color:var(--gn);border:1px solid var(--gn);animation:pulse 2s infinite}
@keyframes pulse{50%{opacity:.4}}
.nav{display:flex;gap:4px;margin-bottom:20px}
.nav button,.btn{font:11px 'JetBrains Mono',monospace;padding:8px 16px;border:1px solid var(--bd);border-radius:6px;background:var(--sf);color:var(--tx2);cursor:pointer}
.nav button.on{background:var(--ac);border-color:var(--ac);color:#fff}
.sts,.gr2{display:grid;gap:12px;margin-bottom:20px}
.sts{grid-template-columns:repeat(auto-fit,minmax(130px,1fr))}
.gr2{grid-template-columns:1fr 1fr}
.st,.pn{background:var(--sf);border:1px solid var(--bd);border-radius:8px}
.st{padding:14px}
.st .v{font-size:22px;font-weight:700}
.v.b{color:var(--ac)}.v.g{color:var(--gn)}.v.r{color:var(--rd)}.v.o{color:var(--or)}.v.p{color:var(--pr)}.v.c{color:var(--cy)}
.st .l,th{font-size:9px;text-transform:uppercase;letter-spacing:.8px;color:var(--tx3)}
.st .l{margin-top:4px}
.pn{margin-bottom:16px;overflow:hidden}
.pn-h{display:flex;align-items:center;justify-content:space-between;padding:12px 16px;background:var(--sf2);border-bottom:1px solid var(--bd)}
.pn-h h2{font:600 13px 'Space Grotesk',sans-serif}
.scy{max-height:500px;overflow-y:auto}
table{width:100%;border-collapse:collapse}
th,td{text-align:left;padding:9px 14px;border-bottom:1px solid var(--bd)}
.addr{color:var(--go);font-size:11px}
.bg,.sc{display:inline-block;padding:2px 8px;border-radius:5px;font-weight:600;color:var(--c);border:1px solid var(--c)}
.bg{font-size:9px}
.bg-active,.sc-h{--c:var(--gn)}.bg-monitoring{--c:var(--ac)}.bg-cooldown,.sc-m{--c:var(--or)}.bg-blacklisted{--c:var(--rd)}.sc-l{--c:var(--tx3)}
.cb{display:inline-block;width:56px;height:5px;margin-left:6px;vertical-align:middle;background:var(--bd);border-radius:3px;overflow:hidden}
.cb-f{display:block;height:100%}
.emp{padding:36px;text-align:center;color:var(--tx3)}.emp .ic{font-size:26px;margin-bottom:8px}
</style></head><body>
<div id="root"></div>
<script src="https://cdnjs.cloudflare.com/ajax/libs/react/18.2.0/umd/react.production.min.js"></script>
<script src="https://cdnjs.cloudflare.com/ajax/libs/react-dom/18.2.0/umd/react-dom.production.min.js"></script>
<script src="https://cdnjs.cloudflare.com/ajax/libs/babel-standalone/7.23.9/babel.min.js"></script>
<script type="text/babel">
const{useState,useEffect,useCallback}=React;
const useFetch=(u,ms=5000)=>{const[d,sD]=useState(null);const ld=useCallback(()=>{fetch(u).then(r=>r.json()).then(sD).catch(()=>{})},[u]);useEffect(()=>{ld();const i=setInterval(ld,ms);return()=>clearInterval(i)},[ld,ms]);return{d,r:ld}};
const ab=a=>a?(a.slice(0,6)+'...'+a.slice(-4)):'-';
const SB=s=>{const p=Math.round((s||0)*100);return<span className={'sc '+(p>=75?'sc-h':p>=50?'sc-m':'sc-l')}>{p}%</span>};
const ST=s=><span className={'bg bg-'+s}>{s}</span>;
const CF=v=>{const c=v>=.8?'var(--gn)':v>=.5?'var(--or)':'var(--tx3)';return<span className="cb"><span className="cb-f" style={{width:(Math.min(v,1)*100)+'%',background:c}}/></span>};
const TA=t=>{if(!t||t.startsWith('0001'))return'-';const d=Date.now()-new Date(t).getTime();if(d<60000)return'now';if(d<3.6e6)return Math.floor(d/6e4)+'m';if(d<8.64e7)return Math.floor(d/3.6e6)+'h';return Math.floor(d/8.64e7)+'d'};
const pct=v=>((v||0)*100).toFixed(1)+'%';

function App(){
  const[tab,sTab]=useState('insiders'),[status,sStatus]=useState('');
  const{d:stats}=useFetch('/api/stats');
  const{d:insiders}=useFetch('/api/insiders'+(status?'?status='+status:''));
  const{d:disc}=useFetch('/api/discoveries?limit=100',10000);
  const c=stats?.cache||{},e=stats?.engine||{},t=stats?.table||{},m=stats?.monitor||{};
  const refresh=q=>fetch('/api/refresh'+q,{method:'POST'});

  return<div className="app">
    <div className="hdr">
      <div style={{display:'flex',alignItems:'center'}}>
        <h1>Insider Intel</h1><span className="live">LIVE</span>
      </div>
      <div style={{display:'flex',gap:8}}>
        <button className="btn btn-s" onClick={()=>refresh('')}>Sync</button>
        <button className="btn btn-s" onClick={()=>refresh('?discover=1')}>Discover</button>
      </div>
    </div>
    <div className="sts">
      <div className="st"><div className="v g">{c.active||0}</div><div className="l">Active</div></div>
      <div className="st"><div className="v b">{c.monitoring||0}</div><div className="l">Monitoring</div></div>
      <div className="st"><div className="v o">{c.cooldown||0}</div><div className="l">Cooldown</div></div>
      <div className="st"><div className="v r">{c.blacklisted||0}</div><div className="l">Blacklisted</div></div>
      <div className="st"><div className="v p">{m.signals_emitted||0}</div><div className="l">Signals</div></div>
      <div className="st"><div className="v c">{pct(t.hit_rate)}</div><div className="l">Hit Rate</div></div>
      <div className="st"><div className="v">{pct(t.load_factor)}</div><div className="l">Load</div></div>
      <div className="st"><div className="v">{e.queue_depth||0}</div><div className="l">Queue</div></div>
    </div>
    <div className="nav">
      {[['insiders','Insiders'],['discoveries','Discoveries'],['engine','Engine']].map(([k,l])=>
        <button key={k} className={tab===k?'on':''} onClick={()=>sTab(k)}>{l}</button>)}
    </div>
    {tab==='insiders'&&<InsidersTab insiders={insiders} status={status} setStatus={sStatus}/>}
    {tab==='discoveries'&&<DiscoveriesTab disc={disc}/>}
    {tab==='engine'&&<EngineTab e={e} t={t} m={m}/>}
  </div>
}

function InsidersTab({insiders,status,setStatus}){
  return<div className="pn"><div className="pn-h"><h2>Insiders ({(insiders||[]).length})</h2>
    <div style={{display:'flex',gap:4}}>{['','active','monitoring','cooldown','blacklisted'].map(s=>
      <button key={s} className="btn btn-s" style={{opacity:status===s?1:.5}} onClick={()=>setStatus(s)}>{s||'all'}</button>)}</div>
  </div>
  <div className="pn-b scy">{!(insiders||[]).length?<div className="emp"><div className="ic">-</div>No insiders tracked yet</div>:
    <table><thead><tr><th>Wallet</th><th>Status</th><th>Confidence</th><th>Win Rate</th><th>Avg Profit</th><th>Trades</th><th>Early</th><th>Active</th></tr></thead>
    <tbody>{insiders.map(w=><tr key={w.address}>
      <td><span className="addr" title={w.address}>{ab(w.address)}</span></td>
      <td>{ST(w.status)}</td>
      <td>{SB(w.confidence)}{CF(w.confidence)}</td>
      <td>{pct(w.win_rate)}</td>
      <td>{pct(w.avg_profit_pct)}</td>
      <td>{w.total_trades}</td>
      <td>{CF(w.early_entry_score)}</td>
      <td>{TA(w.last_activity)}</td>
    </tr>)}</tbody></table>}
  </div></div>
}

function DiscoveriesTab({disc}){
  return<div className="pn"><div className="pn-h"><h2>Recent Discoveries</h2></div>
  <div className="pn-b scy">{!(disc||[]).length?<div className="emp"><div className="ic">-</div>Nothing discovered yet</div>:
    <table><thead><tr><th>Wallet</th><th>Method</th><th>Initial Confidence</th><th>When</th></tr></thead>
    <tbody>{disc.map(d=><tr key={d.id}>
      <td><span className="addr" title={d.wallet}>{ab(d.wallet)}</span></td>
      <td>{d.method}</td>
      <td>{SB(d.initial_confidence)}</td>
      <td>{TA(d.discovered_at)}</td>
    </tr>)}</tbody></table>}
  </div></div>
}

function EngineTab({e,t,m}){
  const rows=[['Sync cycles',e.sync_cycles],['Discovery cycles',e.discovery_cycles],['Cleanup cycles',e.cleanup_cycles],
    ['Updates processed',e.updates_processed],['Updates dropped',e.updates_dropped],['Discovered',e.discovered],
    ['Last sync',TA(e.last_sync)],['Last discovery',TA(e.last_discovery)],['Last cleanup',TA(e.last_cleanup)]];
  const trows=[['Capacity',t.capacity],['Records',t.active_count],['Lookups',t.total_lookups],['Collisions',t.collisions],
    ['Memory',((t.memory_usage||0)/1048576).toFixed(1)+' MiB'],['Market events',m.events],['Signals dropped',m.signals_dropped]];
  const tbl=rs=><table><tbody>{rs.map(([k,v])=><tr key={k}><td>{k}</td><td>{v??'-'}</td></tr>)}</tbody></table>;
  return<div className="gr2">
    <div className="pn"><div className="pn-h"><h2>Sync Engine</h2></div><div className="pn-b">{tbl(rows)}</div></div>
    <div className="pn"><div className="pn-h"><h2>Mapped Table</h2></div><div className="pn-b">{tbl(trows)}</div></div>
  </div>
}

ReactDOM.render(<App/>,document.getElementById('root'));
</script></body></html>` + "\n"
