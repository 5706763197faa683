package admin

// adminPage 最小的管理页面，所有操作都走 /api 接口，浏览器沿用 Basic 认证
const adminPage = `<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<title>Licence Admin</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 8px; font-size: 13px; }
.invalid { color: #a00; }
</style>
</head>
<body>
<h1>许可管理</h1>
<form id="create">
  <input name="key" placeholder="留空自动生成" size="34">
  <input name="duration" placeholder="30d / 2w / 1y / permanent">
  <input name="max_bind_ids" type="number" min="1" max="1000" placeholder="3">
  <input name="note" placeholder="备注">
  <button type="submit">新建</button>
</form>
<p id="msg"></p>
<table>
  <thead><tr><th>key</th><th>过期时间</th><th>启用</th><th>设备上限</th><th>备注</th><th>操作</th></tr></thead>
  <tbody id="rows"></tbody>
</table>
<script>
const msg = (t) => document.getElementById('msg').textContent = t;
async function call(method, url, body) {
  const res = await fetch(url, { method, body, credentials: 'same-origin' });
  const json = await res.json();
  if (!json.success) msg(json.message);
  return json;
}
function fmt(ts, permanent) {
  return permanent ? '永久' : new Date(ts * 1000).toLocaleString();
}
async function load() {
  const json = await call('GET', '/api/keys?limit=100');
  if (!json.success) return;
  const rows = document.getElementById('rows');
  rows.innerHTML = '';
  for (const k of json.data.items) {
    const tr = document.createElement('tr');
    if (!k.valid) tr.className = 'invalid';
    tr.innerHTML = '<td>' + k.key + '</td><td>' + fmt(k.expired_at, k.permanent) + '</td><td>' + k.active +
      '</td><td>' + k.max_bind_ids + '</td><td>' + (k.note || '') + '</td><td>' +
      '<button data-op="extend">+30d</button> <button data-op="toggle">' + (k.active ? '停用' : '启用') + '</button></td>';
    tr.querySelector('[data-op=extend]').onclick = async () => { await call('POST', '/api/keys/' + k.key + '/extend?option=30d'); load(); };
    tr.querySelector('[data-op=toggle]').onclick = async () => { await call('POST', '/api/keys/' + k.key + '/active/' + !k.active); load(); };
    rows.appendChild(tr);
  }
}
document.getElementById('create').onsubmit = async (e) => {
  e.preventDefault();
  const json = await call('POST', '/api/keys', new FormData(e.target));
  if (json.success) { msg('已创建 ' + json.data.key); e.target.reset(); load(); }
};
load();
</script>
</body>
</html>
`
